// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package orchestrator

import "errors"

// State is a step of the student flow.
type State string

const (
	StateLogin      State = "login"
	StateFaceVerify State = "faceVerify"
	StateQRScan     State = "qrScan"
	StateDone       State = "done"
)

var (
	ErrMissingCredentials = errors.New("user ID and password are required")
	ErrNotStudent         = errors.New("only students can mark attendance")
	ErrAlreadyLoggedIn    = errors.New("already logged in")
	ErrTooManyAttempts    = errors.New("too many face verification attempts")
	// ErrDiscarded is returned when a logout overtook the call.
	ErrDiscarded = errors.New("result discarded after logout")
	ErrNotHalted = errors.New("flow is not halted")
)

// Event describes a status change. Err is set for failures.
type Event struct {
	State   State
	Message string
	Err     error
}

// Observer receives every Event. It runs on the flow's goroutine and must
// not call Logout or Resume directly.
type Observer func(Event)
