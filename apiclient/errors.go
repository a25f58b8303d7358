// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package apiclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Business rejections, matched with errors.Is
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrFaceMismatch       = errors.New("face not matched")
	ErrQRExpired          = errors.New("qr token expired")
	ErrAlreadyMarked      = errors.New("attendance already marked")
	ErrSessionFinalized   = errors.New("session finalized")
	ErrAlreadyProcessed   = errors.New("registration already processed")
	ErrRejected           = errors.New("request rejected")
)

// Transport-level failures
var (
	ErrServer    = errors.New("server error")
	ErrTimeout   = errors.New("request timed out")
	ErrMalformed = errors.New("malformed response")
)

// Kind groups failures by how a caller should recover.
type Kind string

const (
	// KindTransport covers network errors, timeouts and 5xx; retry with backoff.
	KindTransport Kind = "transport"
	// KindRejected is a business-rule refusal from the backend.
	KindRejected Kind = "rejected"
	// KindInvalid means the backend answered with something we cannot read.
	KindInvalid Kind = "invalid"
)

// Error is the single failure shape returned by every Client method.
type Error struct {
	Op      string
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransport reports whether err is a retryable transport failure
func IsTransport(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindTransport
}

// Message returns the text to show a user for err
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func transportError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Kind: KindTransport, Message: "request timed out", Err: errors.Join(ErrTimeout, err)}
	}
	return &Error{Op: op, Kind: KindTransport, Message: "network error: " + err.Error(), Err: err}
}

// statusError builds the error for a non-2xx response. msg is the
// backend's error text when the body carried one.
func statusError(op string, status int, msg string) *Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return &Error{Op: op, Kind: KindTransport, Status: status, Message: msg, Err: ErrServer}
	}
	return &Error{Op: op, Kind: KindRejected, Status: status, Message: msg, Err: classify(op, status, msg)}
}

func rejectedError(op string, status int, msg string) *Error {
	if msg == "" {
		msg = "request failed"
	}
	return &Error{Op: op, Kind: KindRejected, Status: status, Message: msg, Err: classify(op, status, msg)}
}

// classify maps backend error text to a sentinel. The backend only sends
// free text, so matching is by keyword.
func classify(op string, status int, msg string) error {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "already approved"),
		strings.Contains(m, "already rejected"),
		strings.Contains(m, "already processed"),
		strings.Contains(m, "not pending"),
		strings.Contains(m, "no pending"):
		return ErrAlreadyProcessed
	case strings.Contains(m, "finaliz"), strings.Contains(m, "session closed"):
		return ErrSessionFinalized
	case strings.Contains(m, "already"):
		return ErrAlreadyMarked
	case strings.Contains(m, "expired"), status == http.StatusGone:
		return ErrQRExpired
	case strings.Contains(m, "face"), strings.Contains(m, "not matched"), strings.Contains(m, "mismatch"):
		return ErrFaceMismatch
	case op == opLogin && (status == http.StatusUnauthorized || strings.Contains(m, "invalid") || strings.Contains(m, "not found")):
		return ErrInvalidCredentials
	}
	return ErrRejected
}
