// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/auth"
	"github.com/danielhkuo/faceattend/capture"
	"github.com/danielhkuo/faceattend/models"
	"github.com/danielhkuo/faceattend/qrscan"
)

// Defaults for Options fields left at zero
const (
	DefaultFacePollPeriod = 2 * time.Second
	DefaultScanPeriod     = 200 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
)

// API is the part of *apiclient.Client the flow uses.
type API interface {
	Login(ctx context.Context, userID, password string) (*models.LoginResponse, error)
	VerifyFace(ctx context.Context, userID, imageBase64 string) error
	MarkAttendanceLive(ctx context.Context, req models.MarkLiveRequest) error
	SetToken(token string)
}

// Journal remembers attempts across runs. *db.Journal implements it.
type Journal interface {
	Record(ctx context.Context, a models.Attempt) (models.Attempt, error)
	IsStale(ctx context.Context, sessionID, qrToken string) (bool, error)
	MarkFinalized(ctx context.Context, sessionID string) error
	IsFinalized(ctx context.Context, sessionID string) (bool, error)
}

type Options struct {
	FacePollPeriod time.Duration
	ScanPeriod     time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts caps face checks per run; zero means no cap.
	MaxAttempts int

	FrontCamera capture.Selector
	BackCamera  capture.Selector

	Journal  Journal
	Observer Observer
}

// Flow drives one student through login, face check and QR scan.
type Flow struct {
	api      API
	rig      *capture.Rig
	decoder  qrscan.Decoder
	identity *auth.Identity
	opts     Options

	mu        sync.Mutex
	state     State
	epoch     uint64
	cancel    context.CancelFunc
	done      chan struct{}
	halted    bool
	err       error
	stale     map[string]struct{}
	finalized map[string]struct{}
}

func New(api API, rig *capture.Rig, decoder qrscan.Decoder, opts Options) *Flow {
	if opts.FacePollPeriod <= 0 {
		opts.FacePollPeriod = DefaultFacePollPeriod
	}
	if opts.ScanPeriod <= 0 {
		opts.ScanPeriod = DefaultScanPeriod
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.MaxBackoff < opts.FacePollPeriod {
		opts.MaxBackoff = opts.FacePollPeriod
	}
	if opts.FrontCamera == (capture.Selector{}) {
		opts.FrontCamera = capture.Selector{Facing: capture.FacingFront}
	}
	if opts.BackCamera == (capture.Selector{}) {
		opts.BackCamera = capture.Selector{Facing: capture.FacingBack}
	}
	if opts.Journal == nil {
		opts.Journal = nopJournal{}
	}

	return &Flow{
		api:       api,
		rig:       rig,
		decoder:   decoder,
		identity:  auth.NewIdentity(api),
		opts:      opts,
		state:     StateLogin,
		stale:     make(map[string]struct{}),
		finalized: make(map[string]struct{}),
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Halted reports whether the current step stopped on an error that needs
// the user, such as a denied camera. Err returns that error.
func (f *Flow) Halted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted
}

func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// User returns the logged-in student.
func (f *Flow) User() (models.LoggedUser, bool) {
	return f.identity.Current()
}

// Login authenticates a student and starts face verification. It moves
// the flow out of login at most once per logout.
func (f *Flow) Login(ctx context.Context, userID, password string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || password == "" {
		f.emit(Event{State: StateLogin, Message: "Enter user ID and password", Err: ErrMissingCredentials})
		return ErrMissingCredentials
	}

	f.mu.Lock()
	if f.state != StateLogin {
		f.mu.Unlock()
		return ErrAlreadyLoggedIn
	}
	epoch := f.epoch
	f.mu.Unlock()

	resp, err := f.api.Login(ctx, userID, password)
	if err != nil {
		if f.current(epoch) {
			f.emit(Event{State: StateLogin, Message: "Login failed: " + apiclient.Message(err), Err: err})
		}
		return err
	}
	if resp.Role != models.RoleStudent {
		err := fmt.Errorf("%w: %s has role %q", ErrNotStudent, userID, resp.Role)
		f.emitCurrent(epoch, Event{State: StateLogin, Message: "Only students can mark attendance", Err: err})
		return err
	}

	f.mu.Lock()
	if f.epoch != epoch {
		f.mu.Unlock()
		return ErrDiscarded
	}
	if f.state != StateLogin {
		f.mu.Unlock()
		return ErrAlreadyLoggedIn
	}
	f.identity.Set(models.LoggedUser{
		UserID: resp.UserID,
		Name:   resp.Name,
		Role:   resp.Role,
		Token:  resp.Token,
	})
	f.state = StateFaceVerify
	f.startLocked()
	f.mu.Unlock()

	slog.Info("student logged in", "user_id", resp.UserID)
	f.emit(Event{State: StateFaceVerify, Message: "Logged in, look at the camera"})
	return nil
}

// Resume restarts a halted step, e.g. after camera permission was granted.
func (f *Flow) Resume() error {
	f.mu.Lock()
	if !f.halted {
		f.mu.Unlock()
		return ErrNotHalted
	}
	epoch, cancel, done := f.epoch, f.cancel, f.done
	f.mu.Unlock()

	// The halted loop may still be releasing its cameras
	if cancel != nil {
		cancel()
		<-done
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch || !f.halted {
		return ErrNotHalted
	}
	f.halted = false
	f.err = nil
	f.startLocked()
	slog.Info("flow resumed", "state", f.state)
	return nil
}

// Logout returns the flow to login from any state. When it returns the
// run loop has exited, every camera is released and the user is gone.
func (f *Flow) Logout() {
	f.mu.Lock()
	f.epoch++
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.state = StateLogin
	f.halted = false
	f.err = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := f.rig.CloseAll(); err != nil {
		slog.Warn("failed to release cameras", "error", err)
	}
	f.identity.Clear()

	f.emit(Event{State: StateLogin, Message: "Logged out"})
}

// Wait blocks until the run loop stops. It returns nil once done, the
// halting error when a step halted, or ctx's error.
func (f *Flow) Wait(ctx context.Context) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.state == StateDone:
		return nil
	case f.halted:
		return f.err
	case f.state == StateLogin:
		return ErrDiscarded
	}
	return nil
}

func (f *Flow) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.cancel, f.done = cancel, done
	go f.run(ctx, f.epoch, done)
}

func (f *Flow) run(ctx context.Context, epoch uint64, done chan struct{}) {
	defer close(done)
	defer f.rig.CloseAll()

	for ctx.Err() == nil {
		var err error
		switch f.State() {
		case StateFaceVerify:
			err = f.verifyFace(ctx, epoch)
		case StateQRScan:
			err = f.scanQR(ctx, epoch)
		default:
			return
		}

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			f.halt(epoch, err)
			return
		}
	}
}

// halt records a step-stopping error. The loop exits right after.
func (f *Flow) halt(epoch uint64, err error) {
	f.mu.Lock()
	if f.epoch != epoch {
		f.mu.Unlock()
		return
	}
	f.halted = true
	f.err = err
	state := f.state
	f.mu.Unlock()

	msg := "Stopped: " + err.Error()
	if errors.Is(err, capture.ErrPermissionDenied) {
		msg = "Camera permission denied, allow access and resume"
	}
	slog.Warn("flow halted", "state", state, "error", err)
	f.emit(Event{State: state, Message: msg, Err: err})
}

func (f *Flow) verifyFace(ctx context.Context, epoch uint64) error {
	user, ok := f.identity.Current()
	if !ok {
		return auth.ErrNotLoggedIn
	}

	stream, err := f.rig.Start(ctx, f.opts.FrontCamera)
	if err != nil {
		return fmt.Errorf("front camera: %w", err)
	}
	defer stream.Close()

	bo := newBackOff(f.opts.FacePollPeriod, f.opts.MaxBackoff)
	attempts := 0
	for {
		frame, err := capture.Grab(ctx, stream)
		if err == nil {
			attempts++
			err = f.api.VerifyFace(ctx, user.UserID, frame)
			if err == nil {
				// The front camera must be off before the back one starts
				stream.Close()
				if f.transition(epoch, StateFaceVerify, StateQRScan) {
					slog.Info("face verified", "user_id", user.UserID, "attempts", attempts)
					f.emit(Event{State: StateQRScan, Message: "Face verified, scan the class QR code"})
				}
				return nil
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, capture.ErrPermissionDenied) || errors.Is(err, capture.ErrClosed) {
			return err
		}

		f.emitCurrent(epoch, Event{State: StateFaceVerify, Message: "Face not verified: " + apiclient.Message(err), Err: err})
		if f.opts.MaxAttempts > 0 && attempts >= f.opts.MaxAttempts {
			return fmt.Errorf("%w (%d)", ErrTooManyAttempts, attempts)
		}
		if !sleep(ctx, nextDelay(bo, f.opts.FacePollPeriod)) {
			return ctx.Err()
		}
	}
}

func (f *Flow) scanQR(ctx context.Context, epoch uint64) error {
	user, ok := f.identity.Current()
	if !ok {
		return auth.ErrNotLoggedIn
	}

	stream, err := f.rig.Start(ctx, f.opts.BackCamera)
	if err != nil {
		return fmt.Errorf("back camera: %w", err)
	}
	defer stream.Close()

	ticker := time.NewTicker(f.opts.ScanPeriod)
	defer ticker.Stop()

	bo := newBackOff(f.opts.ScanPeriod, f.opts.MaxBackoff)
	lastInvalid := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, err := stream.Frame(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrPermissionDenied) || errors.Is(err, capture.ErrClosed) {
				return err
			}
			continue
		}

		payload, err := qrscan.Scan(f.decoder, frame)
		if err != nil {
			if errors.Is(err, qrscan.ErrInvalidPayload) && err.Error() != lastInvalid {
				lastInvalid = err.Error()
				f.emitCurrent(epoch, Event{State: StateQRScan, Message: "Not a class QR code", Err: err})
			}
			continue
		}
		lastInvalid = ""

		if f.skip(ctx, payload) {
			continue
		}

		finished, err := f.submit(ctx, epoch, user, stream, payload)
		if finished {
			if f.transition(epoch, StateQRScan, StateDone) {
				f.emit(Event{State: StateDone, Message: "Attendance marked"})
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if !sleep(ctx, nextDelay(bo, f.opts.ScanPeriod)) {
				return ctx.Err()
			}
			continue
		}
		bo.Reset()
	}
}

// submit marks attendance for payload. finished is true once the student
// is marked; a non-nil error asks the caller to back off.
func (f *Flow) submit(ctx context.Context, epoch uint64, user models.LoggedUser, stream capture.Stream, p models.QRPayload) (finished bool, err error) {
	proof, err := capture.Grab(ctx, stream)
	if err != nil {
		return false, err
	}

	err = f.api.MarkAttendanceLive(ctx, models.MarkLiveRequest{
		UserID:      user.UserID,
		SessionID:   p.SessionID,
		QRToken:     p.QRToken,
		ImageBase64: proof,
	})
	if ctx.Err() != nil || !f.current(epoch) {
		return false, ctx.Err()
	}

	attempt := models.Attempt{UserID: user.UserID, SessionID: p.SessionID, QRToken: p.QRToken}
	switch {
	case err == nil:
		attempt.Outcome = models.OutcomeMarked
		f.record(ctx, attempt)
		slog.Info("attendance marked", "user_id", user.UserID, "session_id", p.SessionID)
		return true, nil

	case errors.Is(err, apiclient.ErrAlreadyMarked):
		attempt.Outcome, attempt.Message = models.OutcomeAlreadyMarked, apiclient.Message(err)
		f.record(ctx, attempt)
		return true, nil

	case errors.Is(err, apiclient.ErrQRExpired):
		f.mu.Lock()
		f.stale[tokenKey(p)] = struct{}{}
		f.mu.Unlock()
		attempt.Outcome, attempt.Message = models.OutcomeExpired, apiclient.Message(err)
		f.record(ctx, attempt)
		f.emit(Event{State: StateQRScan, Message: "QR code expired, scan the new one", Err: err})
		return false, nil

	case errors.Is(err, apiclient.ErrSessionFinalized):
		f.mu.Lock()
		f.finalized[p.SessionID] = struct{}{}
		f.mu.Unlock()
		if jerr := f.opts.Journal.MarkFinalized(ctx, p.SessionID); jerr != nil {
			slog.Warn("failed to journal finalized session", "session_id", p.SessionID, "error", jerr)
		}
		attempt.Outcome, attempt.Message = models.OutcomeFinalized, apiclient.Message(err)
		f.record(ctx, attempt)
		f.emit(Event{State: StateQRScan, Message: "This session is finalized", Err: err})
		return false, nil
	}

	attempt.Outcome, attempt.Message = models.OutcomeRejected, apiclient.Message(err)
	if apiclient.IsTransport(err) {
		attempt.Outcome = models.OutcomeTransport
	}
	f.record(ctx, attempt)
	f.emit(Event{State: StateQRScan, Message: "Could not mark attendance: " + apiclient.Message(err), Err: err})
	return false, err
}

// skip reports whether payload must not be submitted: its token already
// expired or its session is finalized.
func (f *Flow) skip(ctx context.Context, p models.QRPayload) bool {
	f.mu.Lock()
	_, stale := f.stale[tokenKey(p)]
	_, final := f.finalized[p.SessionID]
	f.mu.Unlock()
	if stale || final {
		return true
	}

	if ok, err := f.opts.Journal.IsFinalized(ctx, p.SessionID); err != nil {
		slog.Warn("journal lookup failed", "error", err)
	} else if ok {
		f.mu.Lock()
		f.finalized[p.SessionID] = struct{}{}
		f.mu.Unlock()
		return true
	}

	if ok, err := f.opts.Journal.IsStale(ctx, p.SessionID, p.QRToken); err != nil {
		slog.Warn("journal lookup failed", "error", err)
	} else if ok {
		f.mu.Lock()
		f.stale[tokenKey(p)] = struct{}{}
		f.mu.Unlock()
		return true
	}
	return false
}

func (f *Flow) record(ctx context.Context, a models.Attempt) {
	if _, err := f.opts.Journal.Record(ctx, a); err != nil {
		slog.Warn("failed to journal attempt", "outcome", a.Outcome, "error", err)
	}
}

// transition moves from one state to the next unless a logout or another
// transition got there first.
func (f *Flow) transition(epoch uint64, from, to State) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch || f.state != from {
		return false
	}
	f.state = to
	return true
}

func (f *Flow) current(epoch uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch == epoch
}

func (f *Flow) emitCurrent(epoch uint64, e Event) {
	if f.current(epoch) {
		f.emit(e)
	}
}

func (f *Flow) emit(e Event) {
	if f.opts.Observer != nil {
		f.opts.Observer(e)
	}
}

func tokenKey(p models.QRPayload) string {
	return p.SessionID + "\x00" + p.QRToken
}

type nopJournal struct{}

func (nopJournal) Record(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	return a, nil
}

func (nopJournal) IsStale(ctx context.Context, sessionID, qrToken string) (bool, error) {
	return false, nil
}

func (nopJournal) MarkFinalized(ctx context.Context, sessionID string) error { return nil }

func (nopJournal) IsFinalized(ctx context.Context, sessionID string) (bool, error) {
	return false, nil
}
