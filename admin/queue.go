// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package admin

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/models"
)

const DefaultRefreshPeriod = 10 * time.Second

// Role filter values accepted by Filter.Role besides the model roles
const RoleAll = "all"

var ErrUnknownRole = errors.New("role filter must be all, student or teacher")

// API is the part of *apiclient.Client the queue uses.
type API interface {
	PendingRegistrations(ctx context.Context) ([]models.PendingRegistration, error)
	Approve(ctx context.Context, userID string) error
	Reject(ctx context.Context, userID string) error
}

// Filter narrows Pending. Search matches userId or name, ignoring case.
type Filter struct {
	Role   string
	Search string
}

// ParseRole validates a role filter typed by the user.
func ParseRole(s string) (string, error) {
	switch r := strings.ToLower(strings.TrimSpace(s)); r {
	case "", RoleAll:
		return RoleAll, nil
	case models.RoleStudent, models.RoleTeacher:
		return r, nil
	}
	return "", ErrUnknownRole
}

func (f Filter) match(p models.PendingRegistration) bool {
	if f.Role != "" && f.Role != RoleAll && !strings.EqualFold(p.Role, f.Role) {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Search))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.UserID), q) || strings.Contains(strings.ToLower(p.Name), q)
}

// Queue mirrors the backend's pending registrations.
type Queue struct {
	api      API
	period   time.Duration
	onChange func([]models.PendingRegistration)

	mu      sync.Mutex
	pending []models.PendingRegistration
	fetched time.Time
	// gen changes on every local decision; a fetch begun before one is stale
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a queue. onChange, when set, receives the full list after
// each refresh and decision.
func New(api API, period time.Duration, onChange func([]models.PendingRegistration)) *Queue {
	if period <= 0 {
		period = DefaultRefreshPeriod
	}
	return &Queue{api: api, period: period, onChange: onChange}
}

// Refresh replaces the local list with the backend's. A list fetched
// before an approve or reject completed is dropped.
func (q *Queue) Refresh(ctx context.Context) error {
	q.mu.Lock()
	gen := q.gen
	q.mu.Unlock()

	list, err := q.api.PendingRegistrations(ctx)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.gen != gen {
		q.mu.Unlock()
		slog.Debug("dropped stale pending list", "entries", len(list))
		return nil
	}
	q.pending = list
	q.fetched = time.Now()
	snap := copyPending(q.pending)
	q.mu.Unlock()

	q.notify(snap)
	return nil
}

// Pending returns the cached registrations matching f.
func (q *Queue) Pending(f Filter) []models.PendingRegistration {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := []models.PendingRegistration{}
	for _, p := range q.pending {
		if f.match(p) {
			out = append(out, p)
		}
	}
	return out
}

// LastRefresh is when the list was last fetched.
func (q *Queue) LastRefresh() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetched
}

// Approve accepts a registration. A registration someone else already
// handled counts as done.
func (q *Queue) Approve(ctx context.Context, userID string) error {
	return q.decide(ctx, userID, "approve", q.api.Approve)
}

// Reject declines a registration, with the same idempotency as Approve.
func (q *Queue) Reject(ctx context.Context, userID string) error {
	return q.decide(ctx, userID, "reject", q.api.Reject)
}

func (q *Queue) decide(ctx context.Context, userID, action string, call func(context.Context, string) error) error {
	err := call(ctx, userID)
	if errors.Is(err, apiclient.ErrAlreadyProcessed) {
		slog.Warn("registration already processed", "user_id", userID, "action", action)
		err = nil
	}
	if err != nil {
		return err
	}

	slog.Info("registration decided", "user_id", userID, "action", action)
	q.mu.Lock()
	q.gen++
	for i, p := range q.pending {
		if p.UserID == userID {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			break
		}
	}
	snap := copyPending(q.pending)
	q.mu.Unlock()

	q.notify(snap)
	return nil
}

// Start refreshes once now and then every period until Stop.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	q.cancel, q.done = cancel, done
	q.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(q.period)
		defer ticker.Stop()

		for {
			if err := q.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("pending refresh failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends auto-refresh and waits for the loop to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (q *Queue) notify(list []models.PendingRegistration) {
	if q.onChange != nil {
		q.onChange(list)
	}
}

func copyPending(in []models.PendingRegistration) []models.PendingRegistration {
	out := make([]models.PendingRegistration, len(in))
	copy(out, in)
	return out
}
