// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package screens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/capture"
	"github.com/danielhkuo/faceattend/cliparse"
	"github.com/danielhkuo/faceattend/orchestrator"
)

// Student logs in and runs the face check and QR scan until attendance is
// marked, the flow gives up, or ctx is canceled.
func (s *Screens) Student(ctx context.Context, args cliparse.StudentArgs) error {
	if s.rig == nil {
		return fmt.Errorf("student: %w", capture.ErrNoDevice)
	}

	opts := orchestrator.Options{
		FacePollPeriod: s.cfg.FacePollPeriod,
		ScanPeriod:     s.cfg.ScanPeriod,
		MaxBackoff:     s.cfg.MaxBackoff,
		MaxAttempts:    s.cfg.MaxAttempts,
		Observer:       s.studentEvent,
	}
	if s.journal != nil {
		opts.Journal = s.journal
	}

	flow := orchestrator.New(s.api, s.rig, s.decoder, opts)
	defer flow.Logout()

	if err := flow.Login(ctx, args.UserID, args.Password); err != nil {
		s.printf("Login failed: %s\n", apiclient.Message(err))
		return err
	}
	user, _ := flow.User()
	s.printf("Welcome %s\n", firstNonEmpty(user.Name, user.UserID))

	for {
		err := flow.Wait(ctx)
		switch {
		case err == nil:
			s.printf("Attendance marked. You can close this screen.\n")
			return nil
		case errors.Is(err, capture.ErrPermissionDenied):
			s.printf("Press Enter to retry the camera, or type quit\n")
			line, rerr := s.readLine(ctx)
			if rerr != nil {
				return rerr
			}
			if line == "quit" {
				return ErrQuit
			}
			if err := flow.Resume(); err != nil {
				return err
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			slog.Info("student screen closed", "user_id", args.UserID)
			return nil
		default:
			s.printf("Stopped: %s\n", apiclient.Message(err))
			return err
		}
	}
}

func (s *Screens) studentEvent(e orchestrator.Event) {
	if e.Message == "" {
		return
	}
	s.printf("[%s] %s\n", e.State, e.Message)
}
