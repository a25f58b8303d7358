// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danielhkuo/faceattend/middleware"
	"github.com/danielhkuo/faceattend/models"
)

// Endpoint names accepted by FakeBackend.Calls
const (
	EndpointLogin          = "login"
	EndpointVerifyFace     = "verifyFaceOnly"
	EndpointMarkLive       = "markAttendanceLive"
	EndpointMark           = "attendance/mark"
	EndpointRegister       = "registerUserLive"
	EndpointPending        = "admin/pending"
	EndpointApprove        = "admin/approve"
	EndpointReject         = "admin/reject"
	EndpointCreateSession  = "teacher/createSession"
	EndpointGetSession     = "teacher/getSession"
	EndpointRefreshQR      = "teacher/refreshQr"
	EndpointViewAttendance = "teacher/viewAttendance"
	EndpointFinalize       = "teacher/finalizeAttendance"
)

type fakeUser struct {
	password string
	name     string
	role     string
}

// FakeBackend is an in-memory attendance backend served over httptest. All
// business rejections use the real backend's shape: HTTP 200 with
// {"success": false, "error": "..."}.
type FakeBackend struct {
	Server *httptest.Server

	mu           sync.Mutex
	users        map[string]fakeUser
	faceFailures int
	sessions     map[string]*models.Session
	byClass      map[string]string
	attendance   map[string][]models.AttendanceRecord
	pending      []models.RegisterRequest
	calls        map[string]int
	marks        []models.MarkLiveRequest
	markScript   []string
	down         bool
	seq          int
	tokenTTL     time.Duration
}

// NewFakeBackend starts a backend that is closed when the test ends.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()

	b := &FakeBackend{
		users:      make(map[string]fakeUser),
		sessions:   make(map[string]*models.Session),
		byClass:    make(map[string]string),
		attendance: make(map[string][]models.AttendanceRecord),
		calls:      make(map[string]int),
		tokenTTL:   time.Minute,
	}
	b.Server = httptest.NewServer(b.routes())
	t.Cleanup(b.Server.Close)
	return b
}

func (b *FakeBackend) URL() string {
	return b.Server.URL
}

func (b *FakeBackend) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Student operations
	mux.HandleFunc("POST /login", b.handle(EndpointLogin, b.login))
	mux.HandleFunc("POST /verifyFaceOnly", b.handle(EndpointVerifyFace, b.verifyFace))
	mux.HandleFunc("POST /markAttendanceLive", b.handle(EndpointMarkLive, b.markLive))
	mux.HandleFunc("POST /attendance/mark", b.handle(EndpointMark, b.mark))
	mux.HandleFunc("POST /registerUserLive", b.handle(EndpointRegister, b.register))

	// Admin operations
	mux.HandleFunc("GET /admin/pending", b.handle(EndpointPending, b.listPending))
	mux.HandleFunc("POST /admin/approve", b.handle(EndpointApprove, b.decide(true)))
	mux.HandleFunc("POST /admin/reject", b.handle(EndpointReject, b.decide(false)))

	// Teacher operations
	mux.HandleFunc("POST /teacher/createSession", b.handle(EndpointCreateSession, b.createSession))
	mux.HandleFunc("GET /teacher/getSession/{classId}", b.handle(EndpointGetSession, b.getSession))
	mux.HandleFunc("POST /teacher/refreshQr/{sessionId}", b.handle(EndpointRefreshQR, b.refreshQR))
	mux.HandleFunc("GET /teacher/viewAttendance/{sessionId}", b.handle(EndpointViewAttendance, b.viewAttendance))
	mux.HandleFunc("POST /teacher/finalizeAttendance", b.handle(EndpointFinalize, b.finalize))

	return mux
}

// handle counts the call and answers 503 while the backend is down
func (b *FakeBackend) handle(name string, next http.HandlerFunc) http.HandlerFunc {
	return middleware.WithServerLogging(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[name]++
		down := b.down
		b.mu.Unlock()

		if down {
			middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Service unavailable")
			return
		}
		next(w, r)
	})
}

// Scripting

// AddUser registers an approved account.
func (b *FakeBackend) AddUser(userID, password, role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[userID] = fakeUser{password: password, name: "User " + userID, role: role}
}

// FailFace makes the next n face checks report "Face not matched".
func (b *FakeBackend) FailFace(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faceFailures = n
}

// ScriptMarks queues rejection messages returned by the next live marks
// instead of the normal outcome. An empty entry falls through to it.
func (b *FakeBackend) ScriptMarks(messages ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markScript = append(b.markScript, messages...)
}

// SetDown makes every endpoint answer 503 until called with false.
func (b *FakeBackend) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// SetTokenTTL sets how long issued QR tokens stay valid.
func (b *FakeBackend) SetTokenTTL(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenTTL = d
}

// AddSession opens a session directly, bypassing the teacher endpoint.
func (b *FakeBackend) AddSession(classID, teacherID string) models.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.newSessionLocked(classID, teacherID)
}

// ExpireTokens pushes every session's current token past its validity.
func (b *FakeBackend) ExpireTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	past := time.Now().Add(-time.Second)
	for _, s := range b.sessions {
		s.ValidUntil = models.At(past)
	}
}

// RotateToken issues a fresh token for a session and returns it.
func (b *FakeBackend) RotateToken(sessionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return ""
	}
	b.rotateLocked(s)
	return s.QRToken
}

// FinalizeSession closes a session directly.
func (b *FakeBackend) FinalizeSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalizeLocked(sessionID)
}

// MarkPresent records a student as present without a token check.
func (b *FakeBackend) MarkPresent(sessionID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attendance[sessionID] = append(b.attendance[sessionID], models.AttendanceRecord{
		UserID:    userID,
		SessionID: sessionID,
		Status:    models.StatusPresent,
		Timestamp: models.At(time.Now().UTC()),
	})
}

// AddPending queues a registration awaiting approval.
func (b *FakeBackend) AddPending(userID, name, role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, models.RegisterRequest{UserID: userID, Name: name, Role: role, Password: "secret"})
}

// Inspection

// Calls reports how many requests an endpoint has received.
func (b *FakeBackend) Calls(endpoint string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[endpoint]
}

// MarkRequests returns every live mark received, in order.
func (b *FakeBackend) MarkRequests() []models.MarkLiveRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.MarkLiveRequest, len(b.marks))
	copy(out, b.marks)
	return out
}

// Attendance returns the records of a session.
func (b *FakeBackend) Attendance(sessionID string) []models.AttendanceRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.AttendanceRecord, len(b.attendance[sessionID]))
	copy(out, b.attendance[sessionID])
	return out
}

// Session returns a copy of a session and whether it exists.
func (b *FakeBackend) Session(sessionID string) (models.Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return models.Session{}, false
	}
	return *s, true
}

// IsUser reports whether an account exists, i.e. was added or approved.
func (b *FakeBackend) IsUser(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.users[userID]
	return ok
}

// PendingIDs lists the user IDs still awaiting a decision.
func (b *FakeBackend) PendingIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for _, p := range b.pending {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Handlers

func (b *FakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	b.mu.Lock()
	u, ok := b.users[req.UserID]
	b.mu.Unlock()

	if !ok || u.password != req.Password {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.LoginResponse{
		Envelope: models.Envelope{Success: true},
		UserID:   req.UserID,
		Name:     u.name,
		Role:     u.role,
		Token:    "token-" + req.UserID,
	})
}

func (b *FakeBackend) verifyFace(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyFaceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || req.UserID == "" || req.ImageBase64 == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "userId and imageBase64 are required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.faceFailures > 0 {
		b.faceFailures--
		middleware.ErrorResponse(w, http.StatusOK, "Face not matched")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.Envelope{Success: true})
}

func (b *FakeBackend) markLive(w http.ResponseWriter, r *http.Request) {
	var req models.MarkLiveRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || req.UserID == "" || req.ImageBase64 == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "userId and imageBase64 are required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.marks = append(b.marks, req)
	if len(b.markScript) > 0 {
		msg := b.markScript[0]
		b.markScript = b.markScript[1:]
		if msg != "" {
			middleware.ErrorResponse(w, http.StatusOK, msg)
			return
		}
	}
	b.markLocked(w, req.UserID, req.SessionID, req.QRToken)
}

func (b *FakeBackend) mark(w http.ResponseWriter, r *http.Request) {
	var req models.MarkRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || req.UserID == "" || req.SessionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "userId and sessionId are required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.markLocked(w, req.UserID, req.SessionID, req.QRToken)
}

func (b *FakeBackend) markLocked(w http.ResponseWriter, userID, sessionID, token string) {
	s, ok := b.sessions[sessionID]
	if !ok {
		middleware.ErrorResponse(w, http.StatusOK, "Session not found")
		return
	}
	if s.Finalized {
		middleware.ErrorResponse(w, http.StatusOK, "Session finalized")
		return
	}
	if token != s.QRToken || s.Expired(time.Now()) {
		middleware.ErrorResponse(w, http.StatusOK, "QR expired")
		return
	}
	for _, rec := range b.attendance[sessionID] {
		if rec.UserID == userID {
			middleware.ErrorResponse(w, http.StatusOK, "Attendance already marked")
			return
		}
	}

	b.attendance[sessionID] = append(b.attendance[sessionID], models.AttendanceRecord{
		UserID:    userID,
		SessionID: sessionID,
		Status:    models.StatusPresent,
		Timestamp: models.At(time.Now().UTC()),
	})
	middleware.JSONResponse(w, http.StatusOK, models.Envelope{Success: true, Message: "Attendance marked"})
}

func (b *FakeBackend) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Name == "" || req.Password == "" || req.ImageBase64 == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.users[req.UserID]; ok {
		middleware.ErrorResponse(w, http.StatusOK, "User already exists")
		return
	}
	for _, p := range b.pending {
		if p.UserID == req.UserID {
			middleware.ErrorResponse(w, http.StatusOK, "Registration already pending")
			return
		}
	}
	b.pending = append(b.pending, req)
	middleware.JSONResponse(w, http.StatusOK, models.Envelope{Success: true, Message: "Registration submitted"})
}

func (b *FakeBackend) listPending(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.PendingRegistration, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, models.PendingRegistration{
			UserID:      p.UserID,
			Name:        p.Name,
			Role:        p.Role,
			ImageBase64: p.ImageBase64,
		})
	}
	middleware.JSONResponse(w, http.StatusOK, models.PendingResponse{
		Envelope: models.Envelope{Success: true},
		Pending:  out,
	})
}

func (b *FakeBackend) decide(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.UserIDRequest
		if err := middleware.ParseJSONBody(r, &req); err != nil || req.UserID == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, "userId is required")
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		for i, p := range b.pending {
			if p.UserID != req.UserID {
				continue
			}
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			if approve {
				b.users[p.UserID] = fakeUser{password: p.Password, name: p.Name, role: p.Role}
			}
			middleware.JSONResponse(w, http.StatusOK, models.Envelope{Success: true})
			return
		}
		middleware.ErrorResponse(w, http.StatusOK, "User not pending")
	}
}

func (b *FakeBackend) createSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || req.ClassID == "" || req.TeacherID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "teacherId and classId are required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.newSessionLocked(req.ClassID, req.TeacherID)
	middleware.JSONResponse(w, http.StatusOK, models.SessionResponse{
		Envelope: models.Envelope{Success: true},
		Session:  s,
	})
}

func (b *FakeBackend) getSession(w http.ResponseWriter, r *http.Request) {
	classID := r.PathValue("classId")

	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.byClass[classID]
	if !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "No active session")
		return
	}
	s := *b.sessions[id]
	middleware.JSONResponse(w, http.StatusOK, models.SessionResponse{
		Envelope: models.Envelope{Success: true},
		Session:  &s,
	})
}

func (b *FakeBackend) refreshQR(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[sessionID]
	if !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found")
		return
	}
	if s.Finalized {
		middleware.ErrorResponse(w, http.StatusOK, "Session finalized")
		return
	}
	b.rotateLocked(s)
	validUntil := s.ValidUntil
	middleware.JSONResponse(w, http.StatusOK, models.RefreshQRResponse{
		Envelope:   models.Envelope{Success: true},
		QRToken:    s.QRToken,
		ValidUntil: &validUntil,
	})
}

func (b *FakeBackend) viewAttendance(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[sessionID]; !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found")
		return
	}
	records := make([]models.AttendanceRecord, len(b.attendance[sessionID]))
	copy(records, b.attendance[sessionID])
	middleware.JSONResponse(w, http.StatusOK, models.AttendanceResponse{
		Envelope:   models.Envelope{Success: true},
		Attendance: records,
	})
}

func (b *FakeBackend) finalize(w http.ResponseWriter, r *http.Request) {
	var req models.FinalizeRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || req.SessionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[req.SessionID]
	if !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found")
		return
	}
	if s.Finalized {
		middleware.ErrorResponse(w, http.StatusOK, "Session already finalized")
		return
	}
	b.finalizeLocked(req.SessionID)
	middleware.JSONResponse(w, http.StatusOK, models.Envelope{Success: true})
}

func (b *FakeBackend) newSessionLocked(classID, teacherID string) *models.Session {
	b.seq++
	s := &models.Session{
		SessionID: fmt.Sprintf("sess-%d", b.seq),
		ClassID:   classID,
		TeacherID: teacherID,
	}
	b.rotateLocked(s)
	b.sessions[s.SessionID] = s
	b.byClass[classID] = s.SessionID
	return s
}

func (b *FakeBackend) rotateLocked(s *models.Session) {
	b.seq++
	s.QRToken = fmt.Sprintf("tok-%d", b.seq)
	s.ValidUntil = models.At(time.Now().Add(b.tokenTTL).UTC())
}

func (b *FakeBackend) finalizeLocked(sessionID string) {
	s, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	s.Finalized = true
	for i := range b.attendance[sessionID] {
		b.attendance[sessionID][i].Status = models.StatusFinalized
	}
}
