// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package screens

import (
	"context"
	"errors"
	"strings"

	"github.com/danielhkuo/faceattend/admin"
	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/auth"
	"github.com/danielhkuo/faceattend/cliparse"
	"github.com/danielhkuo/faceattend/models"
)

const adminHelp = `Commands:
  list             show pending registrations
  refresh          reload from the backend
  approve <id>     approve a registration
  reject <id>      reject a registration
  filter <role>    all, student or teacher
  search <text>    match user ID or name (empty clears)
  quit             leave
`

// Admin checks the local admin gate, then serves the approval queue.
func (s *Screens) Admin(ctx context.Context, gate *auth.AdminGate, args cliparse.AdminArgs) error {
	identity := auth.NewIdentity(s.api)
	if err := gate.Login(identity, args.Username, args.Password); err != nil {
		s.printf("Admin login failed\n")
		return err
	}
	defer identity.Clear()

	filter := admin.Filter{Role: admin.RoleAll}
	q := admin.New(s.api, s.cfg.AdminRefreshPeriod, func(list []models.PendingRegistration) {
		s.printf("%d pending registration(s)\n", len(list))
	})

	if err := q.Refresh(ctx); err != nil {
		s.printf("Could not load pending registrations: %s\n", apiclient.Message(err))
	}
	s.printPending(q, filter)
	q.Start(ctx)
	defer q.Stop()

	s.printf("%s", adminHelp)
	for {
		s.printf("admin> ")
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
		case "list":
			s.printPending(q, filter)
		case "refresh":
			if err := q.Refresh(ctx); err != nil {
				s.printf("Refresh failed: %s\n", apiclient.Message(err))
				continue
			}
			s.printPending(q, filter)
		case "approve", "reject":
			if arg == "" {
				s.printf("usage: %s <userId>\n", cmd)
				continue
			}
			decide := q.Approve
			if cmd == "reject" {
				decide = q.Reject
			}
			if err := decide(ctx, arg); err != nil {
				s.printf("%s failed: %s\n", cmd, apiclient.Message(err))
				continue
			}
			s.printf("%s: done\n", arg)
		case "filter":
			role, err := admin.ParseRole(arg)
			if err != nil {
				s.printf("%s\n", err)
				continue
			}
			filter.Role = role
			s.printPending(q, filter)
		case "search":
			filter.Search = arg
			s.printPending(q, filter)
		case "quit", "exit":
			return nil
		case "help":
			s.printf("%s", adminHelp)
		default:
			s.printf("Unknown command %q\n%s", cmd, adminHelp)
		}
	}
}

func (s *Screens) printPending(q *admin.Queue, f admin.Filter) {
	list := q.Pending(f)
	s.printf("Pending (%s", f.Role)
	if f.Search != "" {
		s.printf(", %q", f.Search)
	}
	s.printf("), updated %s:\n", ago(q.LastRefresh()))
	if len(list) == 0 {
		s.printf("  none\n")
		return
	}
	for _, p := range list {
		s.printf("  %-20s %-24s %s\n", p.UserID, p.Name, p.Role)
	}
}
