// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package teacher

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/models"
	"github.com/danielhkuo/faceattend/qrscan"
	"github.com/danielhkuo/faceattend/testutil"
)

const waitFor = 3 * time.Second

// recordingAPI keeps the last create request
type recordingAPI struct {
	API
	mu  sync.Mutex
	req models.CreateSessionRequest
}

func (r *recordingAPI) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	r.mu.Lock()
	r.req = req
	r.mu.Unlock()
	return r.API.CreateSession(ctx, req)
}

func newController(t *testing.T) (*Controller, *testutil.FakeBackend) {
	t.Helper()
	b := testutil.NewFakeBackend(t)
	client := apiclient.New(b.URL())
	c := New(client, Options{RefreshPeriod: 10 * time.Millisecond, PollPeriod: 10 * time.Millisecond})
	t.Cleanup(c.Close)
	return c, b
}

func pollingCalls(b *testutil.FakeBackend) int {
	return b.Calls(testutil.EndpointRefreshQR) + b.Calls(testutil.EndpointViewAttendance)
}

func TestCreate_DefaultDuration(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	api := &recordingAPI{API: apiclient.New(b.URL())}
	c := New(api, Options{})
	defer c.Close()

	s, err := c.Create(context.Background(), "t1", "CS101", 0)
	if err != nil {
		t.Fatal(err)
	}
	if s.SessionID == "" || s.QRToken == "" {
		t.Fatalf("incomplete session %+v", s)
	}
	if api.req.DurationMinutes != models.DefaultSessionMinutes {
		t.Errorf("expected %d minutes, got %d", models.DefaultSessionMinutes, api.req.DurationMinutes)
	}
	if !c.Polling() {
		t.Error("expected polling to start")
	}

	if _, err := c.Create(context.Background(), "t1", "CS102", 5); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestCreate_AfterCloseOrFinalize(t *testing.T) {
	c, b := newController(t)
	ctx := context.Background()

	first, err := c.Create(ctx, "t1", "CS101", 10)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	if c.Polling() {
		t.Fatal("Close must stop polling")
	}

	second, err := c.Create(ctx, "t1", "CS101", 10)
	if err != nil {
		t.Fatalf("create after close: %v", err)
	}
	if second.SessionID == first.SessionID || !c.Polling() {
		t.Errorf("expected a new polled session, got %s polling=%v", second.SessionID, c.Polling())
	}

	if err := c.Finalize(ctx); err != nil {
		t.Fatal(err)
	}
	existing := b.AddSession("CS102", "t1")
	resumed, err := c.Resume(ctx, "CS102")
	if err != nil {
		t.Fatalf("resume after finalize: %v", err)
	}
	if resumed.SessionID != existing.SessionID || len(c.Attendance()) != 0 {
		t.Errorf("expected a clean %s, got %s with %d records", existing.SessionID, resumed.SessionID, len(c.Attendance()))
	}
}

func TestController_RefreshesTokenAndPollsAttendance(t *testing.T) {
	c, b := newController(t)
	ctx := context.Background()

	s, err := c.Create(ctx, "t1", "CS101", 10)
	if err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, waitFor, func() bool {
		cur, _ := c.Session()
		return cur.QRToken != s.QRToken
	}, "token was never refreshed")

	b.MarkPresent(s.SessionID, "s1")

	testutil.Eventually(t, waitFor, func() bool { return len(c.Attendance()) == 1 }, "attendance was never polled")
}

func TestFinalize_StopsAllPolling(t *testing.T) {
	c, b := newController(t)
	ctx := context.Background()

	s, err := c.Create(ctx, "t1", "CS101", 10)
	if err != nil {
		t.Fatal(err)
	}
	b.MarkPresent(s.SessionID, "s1")

	testutil.Eventually(t, waitFor, func() bool {
		return b.Calls(testutil.EndpointRefreshQR) >= 2 && len(c.Attendance()) >= 1
	}, "polling did not start")

	if err := c.Finalize(ctx); err != nil {
		t.Fatal(err)
	}

	// Let requests aborted by the cancel reach the server
	time.Sleep(20 * time.Millisecond)
	before := pollingCalls(b)
	time.Sleep(80 * time.Millisecond)
	if after := pollingCalls(b); after != before {
		t.Errorf("expected zero polling requests after finalize, got %d", after-before)
	}

	if c.Polling() {
		t.Error("polling flag still set")
	}
	cur, _ := c.Session()
	if !cur.Finalized {
		t.Error("session should be finalized")
	}
	for _, r := range c.Attendance() {
		if r.Status != models.StatusFinalized {
			t.Errorf("expected finalized status, got %s", r.Status)
		}
	}
	if _, err := c.Payload(); !errors.Is(err, ErrFinalized) {
		t.Errorf("expected ErrFinalized for payload, got %v", err)
	}
	if err := c.Finalize(ctx); !errors.Is(err, ErrFinalized) {
		t.Errorf("expected ErrFinalized on second finalize, got %v", err)
	}

	views := b.Calls(testutil.EndpointViewAttendance)
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Calls(testutil.EndpointViewAttendance) != views {
		t.Error("Refresh must not hit the backend after finalize")
	}
}

func TestFinalize_FailureKeepsPolling(t *testing.T) {
	c, b := newController(t)
	ctx := context.Background()

	if _, err := c.Create(ctx, "t1", "CS101", 10); err != nil {
		t.Fatal(err)
	}

	b.SetDown(true)
	if err := c.Finalize(ctx); !apiclient.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !c.Polling() {
		t.Error("a failed finalize must not stop polling")
	}
	b.SetDown(false)
}

func TestController_FinalizedRemotely(t *testing.T) {
	c, b := newController(t)

	s, err := c.Create(context.Background(), "t1", "CS101", 10)
	if err != nil {
		t.Fatal(err)
	}
	b.FinalizeSession(s.SessionID)

	testutil.Eventually(t, waitFor, func() bool { return !c.Polling() }, "polling did not stop")

	cur, _ := c.Session()
	if !cur.Finalized {
		t.Error("expected session to be marked finalized")
	}
	time.Sleep(20 * time.Millisecond)
	before := pollingCalls(b)
	time.Sleep(50 * time.Millisecond)
	if pollingCalls(b) != before {
		t.Error("requests continued after remote finalize")
	}
}

func TestResume(t *testing.T) {
	c, b := newController(t)
	existing := b.AddSession("CS101", "t1")

	s, err := c.Resume(context.Background(), "CS101")
	if err != nil {
		t.Fatal(err)
	}
	if s.SessionID != existing.SessionID {
		t.Errorf("expected %s, got %s", existing.SessionID, s.SessionID)
	}
	if !c.Polling() {
		t.Error("expected polling after resume")
	}

	other := New(apiclient.New(b.URL()), Options{})
	if _, err := other.Resume(context.Background(), "NOPE"); err == nil {
		t.Error("expected error for unknown class")
	}
}

func TestResume_FinalizedSessionIsNotPolled(t *testing.T) {
	c, b := newController(t)
	existing := b.AddSession("CS101", "t1")
	b.FinalizeSession(existing.SessionID)

	if _, err := c.Resume(context.Background(), "CS101"); err != nil {
		t.Fatal(err)
	}
	if c.Polling() {
		t.Error("finalized session must not be polled")
	}
}

func TestNoSession(t *testing.T) {
	c := New(nil, Options{})

	if err := c.Finalize(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if _, err := c.Payload(); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if err := c.Export(filepath.Join(t.TempDir(), "x.xlsx")); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestQRCodePNG_ScansBack(t *testing.T) {
	c, _ := newController(t)
	if _, err := c.Create(context.Background(), "t1", "CS101", 10); err != nil {
		t.Fatal(err)
	}

	want, err := c.Payload()
	if err != nil {
		t.Fatal(err)
	}
	data, err := qrscan.RenderPNG(want, 256)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	got, err := qrscan.Scan(qrscan.NewDecoder(), img)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != want.SessionID {
		t.Errorf("expected session %s, got %s", want.SessionID, got.SessionID)
	}

	if _, err := c.QRCodePNG(128); err != nil {
		t.Errorf("QRCodePNG: %v", err)
	}
	if out, err := c.QRCode(); err != nil || out == "" {
		t.Errorf("QRCode: %q, %v", out, err)
	}
}

func TestWriteXLSX(t *testing.T) {
	s := models.Session{SessionID: "sess-1", ClassID: "CS101", TeacherID: "t1", Finalized: true}
	records := []models.AttendanceRecord{
		{UserID: "s1", SessionID: "sess-1", Status: models.StatusFinalized, Timestamp: models.At(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))},
		{UserID: "s2", SessionID: "sess-1", Status: models.StatusFinalized, Timestamp: models.At(time.Date(2025, 3, 1, 9, 1, 0, 0, time.UTC))},
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, s, records); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := f.GetRows(attendanceSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 9 {
		t.Fatalf("expected 9 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][1] != "CS101" || rows[3][1] != models.StatusFinalized || rows[4][1] != "2" {
		t.Errorf("unexpected header rows %v", rows[:5])
	}
	if rows[6][0] != "User ID" {
		t.Errorf("unexpected column header %v", rows[6])
	}
	if rows[7][0] != "s1" || rows[8][0] != "s2" {
		t.Errorf("unexpected data rows %v", rows[7:])
	}
}
