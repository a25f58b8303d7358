// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package screens

import (
	"context"
	"errors"

	"github.com/danielhkuo/faceattend/cliparse"
)

var ErrNoJournal = errors.New("attempt journal is not configured")

// History prints the newest journal entries.
func (s *Screens) History(ctx context.Context, args cliparse.HistoryArgs) error {
	if s.journal == nil {
		return ErrNoJournal
	}
	attempts, err := s.journal.History(ctx, args.UserID, args.Limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		s.printf("No attendance attempts recorded\n")
		return nil
	}
	for _, a := range attempts {
		s.printf("%-16s %-12s %-14s %-10s %s\n", ago(a.CreatedAt), a.UserID, a.SessionID, a.Outcome, a.Message)
	}
	return nil
}
