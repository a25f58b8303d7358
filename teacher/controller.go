// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package teacher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/models"
)

const (
	DefaultRefreshPeriod = 20 * time.Second
	DefaultPollPeriod    = 10 * time.Second
)

var (
	ErrNoSession     = errors.New("no session")
	ErrFinalized     = errors.New("session is finalized")
	ErrSessionActive = errors.New("a session is already running")
)

// API is the part of *apiclient.Client the controller uses.
type API interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, classID string) (*models.Session, error)
	RefreshQR(ctx context.Context, sessionID string) (*models.RefreshQRResponse, error)
	ViewAttendance(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
	FinalizeAttendance(ctx context.Context, sessionID string) error
}

type Options struct {
	RefreshPeriod time.Duration
	PollPeriod    time.Duration
	// OnUpdate is called after every token refresh, attendance poll and
	// finalize, from the goroutine that made the change.
	OnUpdate func(Snapshot)
}

// Snapshot is a copy of the controller's view of its session.
type Snapshot struct {
	Session    models.Session
	Attendance []models.AttendanceRecord
	Polling    bool
}

// Controller runs one teacher session: it keeps the QR token fresh and the
// attendance list current until the session is finalized.
type Controller struct {
	api  API
	opts Options

	mu         sync.Mutex
	session    *models.Session
	attendance []models.AttendanceRecord
	gen        uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func New(api API, opts Options) *Controller {
	if opts.RefreshPeriod <= 0 {
		opts.RefreshPeriod = DefaultRefreshPeriod
	}
	if opts.PollPeriod <= 0 {
		opts.PollPeriod = DefaultPollPeriod
	}
	return &Controller{api: api, opts: opts}
}

// Create opens a session for classID and starts polling. A duration of
// zero or less uses the default.
func (c *Controller) Create(ctx context.Context, teacherID, classID string, minutes int) (models.Session, error) {
	if minutes <= 0 {
		minutes = models.DefaultSessionMinutes
	}
	if err := c.checkIdle(); err != nil {
		return models.Session{}, err
	}

	s, err := c.api.CreateSession(ctx, models.CreateSessionRequest{
		TeacherID:       teacherID,
		ClassID:         classID,
		DurationMinutes: minutes,
	})
	if err != nil {
		return models.Session{}, err
	}

	slog.Info("session created", "session_id", s.SessionID, "class_id", classID, "minutes", minutes)
	return c.attach(*s)
}

// Resume attaches to the current session of classID. A finalized session
// is shown but not polled.
func (c *Controller) Resume(ctx context.Context, classID string) (models.Session, error) {
	if err := c.checkIdle(); err != nil {
		return models.Session{}, err
	}

	s, err := c.api.GetSession(ctx, classID)
	if err != nil {
		return models.Session{}, err
	}

	slog.Info("session resumed", "session_id", s.SessionID, "class_id", classID, "finalized", s.Finalized)
	return c.attach(*s)
}

func (c *Controller) checkIdle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrSessionActive
	}
	return nil
}

// attach makes s the current session. Another Create or Resume may have
// attached while s was being fetched.
func (c *Controller) attach(s models.Session) (models.Session, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return models.Session{}, ErrSessionActive
	}
	c.session = &s
	c.attendance = nil
	if !s.Finalized {
		c.startLocked(s.SessionID)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return s, nil
}

func (c *Controller) startLocked(sessionID string) {
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go c.refreshLoop(ctx, c.gen, sessionID)
	go c.pollLoop(ctx, c.gen, sessionID)
}

// stop cancels both loops and waits for them. It must not be called from
// a loop goroutine.
func (c *Controller) stop() {
	c.mu.Lock()
	c.gen++
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Controller) refreshLoop(ctx context.Context, gen uint64, sessionID string) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.RefreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		resp, err := c.api.RefreshQR(ctx, sessionID)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, apiclient.ErrSessionFinalized) {
			slog.Info("session finalized elsewhere, stopping", "session_id", sessionID)
			c.finalizedRemotely(gen)
			return
		}
		if err != nil {
			slog.Warn("qr refresh failed", "session_id", sessionID, "error", err)
			continue
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.session.QRToken = resp.QRToken
		if resp.ValidUntil != nil {
			c.session.ValidUntil = *resp.ValidUntil
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()

		slog.Debug("qr refreshed", "session_id", sessionID)
		c.notify(snap)
	}
}

func (c *Controller) pollLoop(ctx context.Context, gen uint64, sessionID string) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PollPeriod)
	defer ticker.Stop()

	for {
		c.pollOnce(ctx, gen, sessionID)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) pollOnce(ctx context.Context, gen uint64, sessionID string) {
	records, err := c.api.ViewAttendance(ctx, sessionID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("attendance poll failed", "session_id", sessionID, "error", err)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.attendance = records
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// finalizedRemotely stops polling from inside a loop; the sibling loop
// exits on the canceled context.
func (c *Controller) finalizedRemotely(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.markFinalizedLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Finalize freezes the attendance list. Polling has stopped when it
// returns nil, and no request for the session is made afterwards.
func (c *Controller) Finalize(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.session.Finalized {
		c.mu.Unlock()
		return ErrFinalized
	}
	sessionID := c.session.SessionID
	c.mu.Unlock()

	err := c.api.FinalizeAttendance(ctx, sessionID)
	if err != nil && !errors.Is(err, apiclient.ErrSessionFinalized) {
		return err
	}

	c.stop()

	c.mu.Lock()
	c.markFinalizedLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	slog.Info("session finalized", "session_id", sessionID, "present", len(snap.Attendance))
	c.notify(snap)
	return nil
}

func (c *Controller) markFinalizedLocked() {
	c.session.Finalized = true
	for i := range c.attendance {
		c.attendance[i].Status = models.StatusFinalized
	}
}

// Refresh fetches attendance now. After finalize it returns the frozen list
// without a request.
func (c *Controller) Refresh(ctx context.Context) ([]models.AttendanceRecord, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	if c.session.Finalized {
		out := copyRecords(c.attendance)
		c.mu.Unlock()
		return out, nil
	}
	gen, sessionID := c.gen, c.session.SessionID
	c.mu.Unlock()

	c.pollOnce(ctx, gen, sessionID)
	return c.Attendance(), nil
}

// Close stops polling without finalizing.
func (c *Controller) Close() {
	c.stop()
}

func (c *Controller) Session() (models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return models.Session{}, false
	}
	return *c.session, true
}

func (c *Controller) Attendance() []models.AttendanceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyRecords(c.attendance)
}

// Polling reports whether the refresh and attendance loops are running.
func (c *Controller) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Payload is what the classroom QR code currently encodes.
func (c *Controller) Payload() (models.QRPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return models.QRPayload{}, ErrNoSession
	}
	if c.session.Finalized {
		return models.QRPayload{}, ErrFinalized
	}
	return models.QRPayload{SessionID: c.session.SessionID, QRToken: c.session.QRToken}, nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	var s models.Session
	if c.session != nil {
		s = *c.session
	}
	return Snapshot{
		Session:    s,
		Attendance: copyRecords(c.attendance),
		Polling:    c.cancel != nil,
	}
}

func (c *Controller) notify(s Snapshot) {
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(s)
	}
}

func copyRecords(in []models.AttendanceRecord) []models.AttendanceRecord {
	out := make([]models.AttendanceRecord, len(in))
	copy(out, in)
	return out
}
