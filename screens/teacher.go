// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package screens

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/cliparse"
	"github.com/danielhkuo/faceattend/models"
	"github.com/danielhkuo/faceattend/teacher"
)

const teacherHelp = `Commands:
  attendance       show who is present
  qr               show the current QR code
  finalize         close the session
  export <file>    write attendance to an .xlsx file
  quit             leave (the session stays open)
`

// teacherView remembers what was last printed so the background loops
// only print changes.
type teacherView struct {
	mu      sync.Mutex
	token   string
	present int
}

// Teacher creates or resumes a session for a class and serves commands
// until quit, EOF, or ctx is canceled.
func (s *Screens) Teacher(ctx context.Context, args cliparse.TeacherArgs) error {
	view := &teacherView{}
	ctrl := teacher.New(s.api, teacher.Options{
		RefreshPeriod: s.cfg.QRRefreshPeriod,
		PollPeriod:    s.cfg.AttendancePollPeriod,
		OnUpdate:      func(snap teacher.Snapshot) { s.teacherUpdate(view, snap) },
	})
	defer ctrl.Close()

	var (
		session models.Session
		err     error
	)
	if args.Resume {
		session, err = ctrl.Resume(ctx, args.ClassID)
	} else {
		session, err = ctrl.Create(ctx, args.TeacherID, args.ClassID, int(args.Duration.Minutes()))
	}
	if err != nil {
		s.printf("Could not start session: %s\n", apiclient.Message(err))
		return err
	}

	s.printf("Session %s for %s, valid until %s\n", session.SessionID, session.ClassID, until(session.ValidUntil.Time))
	if session.Finalized {
		s.printf("This session is already finalized\n")
	} else {
		s.teacherUpdate(view, ctrl.Snapshot())
	}
	s.printf("%s", teacherHelp)

	for {
		s.printf("teacher> ")
		line, err := s.readLine(ctx)
		if err != nil {
			if errors.Is(err, ErrQuit) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
		case "attendance":
			records, err := ctrl.Refresh(ctx)
			if err != nil {
				s.printf("Refresh failed: %s\n", apiclient.Message(err))
				records = ctrl.Attendance()
			}
			s.printAttendance(records)
		case "qr":
			p, err := ctrl.Payload()
			if err != nil {
				s.printf("%s\n", err)
				continue
			}
			if _, err := s.showQR(p); err != nil {
				s.printf("QR failed: %s\n", err)
			}
		case "finalize":
			if err := ctrl.Finalize(ctx); err != nil {
				s.printf("Finalize failed: %s\n", apiclient.Message(err))
				continue
			}
			s.printf("Session finalized, %d present\n", len(ctrl.Attendance()))
		case "export":
			if arg == "" {
				s.printf("usage: export <file.xlsx>\n")
				continue
			}
			if err := ctrl.Export(arg); err != nil {
				s.printf("Export failed: %s\n", err)
				continue
			}
			s.printf("Wrote %s\n", arg)
		case "quit", "exit":
			return nil
		case "help":
			s.printf("%s", teacherHelp)
		default:
			s.printf("Unknown command %q\n%s", cmd, teacherHelp)
		}
	}
}

// teacherUpdate prints a new QR code when the token rotates and a line
// when attendance grows.
func (s *Screens) teacherUpdate(v *teacherView, snap teacher.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !snap.Session.Finalized && snap.Session.QRToken != "" && snap.Session.QRToken != v.token {
		v.token = snap.Session.QRToken
		p := models.QRPayload{SessionID: snap.Session.SessionID, QRToken: snap.Session.QRToken}
		if _, err := s.showQR(p); err != nil {
			slog.Warn("qr render failed", "session_id", p.SessionID, "error", err)
		}
	}
	if n := len(snap.Attendance); n != v.present {
		v.present = n
		s.printf("%s student(s) present\n", humanize.Comma(int64(n)))
	}
	if snap.Session.Finalized && !snap.Polling && v.token != "" {
		v.token = ""
		s.printf("Session %s is finalized\n", snap.Session.SessionID)
	}
}

func (s *Screens) printAttendance(records []models.AttendanceRecord) {
	if len(records) == 0 {
		s.printf("Nobody has marked attendance yet\n")
		return
	}
	for _, r := range records {
		s.printf("  %-20s %-10s %s\n", r.UserID, r.Status, ago(r.Timestamp.Time))
	}
}
