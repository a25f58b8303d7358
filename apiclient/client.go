// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danielhkuo/faceattend/middleware"
	"github.com/danielhkuo/faceattend/models"
)

// Operation names, used in errors and logs
const (
	opLogin          = "login"
	opVerifyFace     = "verifyFaceOnly"
	opMarkLive       = "markAttendanceLive"
	opMark           = "attendance/mark"
	opRegister       = "registerUserLive"
	opPending        = "admin/pending"
	opApprove        = "admin/approve"
	opReject         = "admin/reject"
	opCreateSession  = "teacher/createSession"
	opGetSession     = "teacher/getSession"
	opRefreshQR      = "teacher/refreshQr"
	opViewAttendance = "teacher/viewAttendance"
	opFinalize       = "teacher/finalizeAttendance"
)

const DefaultTimeout = 10 * time.Second

// Client is the gateway to the attendance backend. It is safe for
// concurrent use; construct one and pass it to every controller.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Its transport is used as is,
// so wrap it with middleware yourself if you want logging.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout bounds every request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: middleware.WithLogging(middleware.WithRequestID(http.DefaultTransport)),
		},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets the bearer token sent with every request. An empty token
// clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Login(ctx context.Context, userID, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	err := c.do(ctx, opLogin, http.MethodPost, "/login", models.LoginRequest{UserID: userID, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.UserID == "" {
		resp.UserID = userID
	}
	return &resp, nil
}

func (c *Client) VerifyFace(ctx context.Context, userID, imageBase64 string) error {
	return c.do(ctx, opVerifyFace, http.MethodPost, "/verifyFaceOnly",
		models.VerifyFaceRequest{UserID: userID, ImageBase64: imageBase64}, nil)
}

func (c *Client) MarkAttendanceLive(ctx context.Context, req models.MarkLiveRequest) error {
	return c.do(ctx, opMarkLive, http.MethodPost, "/markAttendanceLive", req, nil)
}

func (c *Client) MarkAttendance(ctx context.Context, req models.MarkRequest) error {
	return c.do(ctx, opMark, http.MethodPost, "/attendance/mark", req, nil)
}

func (c *Client) RegisterUser(ctx context.Context, req models.RegisterRequest) error {
	return c.do(ctx, opRegister, http.MethodPost, "/registerUserLive", req, nil)
}

func (c *Client) PendingRegistrations(ctx context.Context) ([]models.PendingRegistration, error) {
	var resp models.PendingResponse
	if err := c.do(ctx, opPending, http.MethodGet, "/admin/pending", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Pending == nil {
		return []models.PendingRegistration{}, nil
	}
	return resp.Pending, nil
}

func (c *Client) Approve(ctx context.Context, userID string) error {
	return c.do(ctx, opApprove, http.MethodPost, "/admin/approve", models.UserIDRequest{UserID: userID}, nil)
}

func (c *Client) Reject(ctx context.Context, userID string) error {
	return c.do(ctx, opReject, http.MethodPost, "/admin/reject", models.UserIDRequest{UserID: userID}, nil)
}

func (c *Client) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	var resp models.SessionResponse
	if err := c.do(ctx, opCreateSession, http.MethodPost, "/teacher/createSession", req, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, &Error{Op: opCreateSession, Kind: KindInvalid, Message: "response has no session", Err: ErrMalformed}
	}
	return resp.Session, nil
}

func (c *Client) GetSession(ctx context.Context, classID string) (*models.Session, error) {
	var resp models.SessionResponse
	if err := c.do(ctx, opGetSession, http.MethodGet, "/teacher/getSession/"+url.PathEscape(classID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, &Error{Op: opGetSession, Kind: KindInvalid, Message: "response has no session", Err: ErrMalformed}
	}
	return resp.Session, nil
}

func (c *Client) RefreshQR(ctx context.Context, sessionID string) (*models.RefreshQRResponse, error) {
	var resp models.RefreshQRResponse
	if err := c.do(ctx, opRefreshQR, http.MethodPost, "/teacher/refreshQr/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.QRToken == "" {
		return nil, &Error{Op: opRefreshQR, Kind: KindInvalid, Message: "response has no qrToken", Err: ErrMalformed}
	}
	return &resp, nil
}

func (c *Client) ViewAttendance(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	var resp models.AttendanceResponse
	if err := c.do(ctx, opViewAttendance, http.MethodGet, "/teacher/viewAttendance/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Attendance == nil {
		return []models.AttendanceRecord{}, nil
	}
	return resp.Attendance, nil
}

func (c *Client) FinalizeAttendance(ctx context.Context, sessionID string) error {
	return c.do(ctx, opFinalize, http.MethodPost, "/teacher/finalizeAttendance", models.FinalizeRequest{SessionID: sessionID}, nil)
}

// do issues one request and normalizes every failure into *Error. out, when
// non-nil, receives the full decoded body after the envelope checks pass.
func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindInvalid, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return &Error{Op: op, Kind: KindInvalid, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		// Caller cancellation is not a transport failure
		if errors.Is(ctx.Err(), context.Canceled) {
			return &Error{Op: op, Kind: KindTransport, Message: "canceled", Err: context.Canceled}
		}
		return transportError(op, err)
	}

	var raw json.RawMessage
	decodeErr := middleware.ParseJSONResponse(resp, &raw)

	var env models.Envelope
	if decodeErr == nil {
		decodeErr = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp.StatusCode, firstNonEmpty(env.Error, env.Message))
	}
	if decodeErr != nil {
		return &Error{Op: op, Kind: KindInvalid, Status: resp.StatusCode, Message: "malformed response", Err: errors.Join(ErrMalformed, decodeErr)}
	}
	if !env.Success {
		return rejectedError(op, resp.StatusCode, firstNonEmpty(env.Error, env.Message))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Op: op, Kind: KindInvalid, Status: resp.StatusCode, Message: fmt.Sprintf("decode %s response", op), Err: errors.Join(ErrMalformed, err)}
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
