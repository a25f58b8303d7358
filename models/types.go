// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Role constants
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Attendance status constants
const (
	StatusPending   = "pending"
	StatusPresent   = "present"
	StatusFinalized = "finalized"
)

// Attempt outcome constants (journal)
const (
	OutcomeMarked        = "marked"
	OutcomeAlreadyMarked = "already_marked"
	OutcomeExpired       = "expired"
	OutcomeFinalized     = "finalized"
	OutcomeRejected      = "rejected"
	OutcomeTransport     = "transport"
)

// DefaultSessionMinutes is used when a teacher does not pick a duration.
const DefaultSessionMinutes = 10

// Request types

type LoginRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

type VerifyFaceRequest struct {
	UserID      string `json:"userId"`
	ImageBase64 string `json:"imageBase64"`
}

// SessionID and QRToken are optional for live marks; the backend falls
// back to the student's current session when they are empty.
type MarkLiveRequest struct {
	UserID      string `json:"userId"`
	SessionID   string `json:"sessionId,omitempty"`
	ImageBase64 string `json:"imageBase64"`
	QRToken     string `json:"qrToken,omitempty"`
}

type MarkRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	QRToken   string `json:"qrToken"`
}

type RegisterRequest struct {
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	ImageBase64 string `json:"imageBase64"`
}

type UserIDRequest struct {
	UserID string `json:"userId"`
}

type CreateSessionRequest struct {
	TeacherID       string `json:"teacherId"`
	ClassID         string `json:"classId"`
	DurationMinutes int    `json:"durationMinutes"`
}

type FinalizeRequest struct {
	SessionID string `json:"sessionId"`
}

// Response types

// Envelope is the shape shared by every backend response.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type LoginResponse struct {
	Envelope
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	Token  string `json:"token,omitempty"`
}

type PendingResponse struct {
	Envelope
	Pending []PendingRegistration `json:"pending"`
}

type SessionResponse struct {
	Envelope
	Session *Session `json:"session"`
}

type RefreshQRResponse struct {
	Envelope
	QRToken    string     `json:"qrToken"`
	ValidUntil *Timestamp `json:"validUntil,omitempty"`
}

type AttendanceResponse struct {
	Envelope
	Attendance []AttendanceRecord `json:"attendance"`
}

// Domain types

type Session struct {
	SessionID  string    `json:"sessionId"`
	ClassID    string    `json:"classId"`
	TeacherID  string    `json:"teacherId"`
	QRToken    string    `json:"qrToken"`
	ValidUntil Timestamp `json:"validUntil"`
	Finalized  bool      `json:"finalized"`
}

// Expired reports whether the current QR token is past its validity window.
func (s Session) Expired(now time.Time) bool {
	return !s.ValidUntil.IsZero() && now.After(s.ValidUntil.Time)
}

type AttendanceRecord struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	Timestamp Timestamp `json:"timestamp"`
}

type LoggedUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	Token  string `json:"-"` // Never echo the token back
}

type PendingRegistration struct {
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	ImageBase64 string `json:"imageBase64,omitempty"`
}

// QRPayload is the JSON text carried by the classroom QR code.
type QRPayload struct {
	SessionID string `json:"sessionId"`
	QRToken   string `json:"qrToken"`
}

// Journal types

type Attempt struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	QRToken   string    `json:"qrToken"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
