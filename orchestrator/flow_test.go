// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/capture"
	"github.com/danielhkuo/faceattend/models"
	"github.com/danielhkuo/faceattend/qrscan"
	"github.com/danielhkuo/faceattend/testutil"
)

const waitFor = 3 * time.Second

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(match func(Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if match(e) {
			n++
		}
	}
	return n
}

type harness struct {
	backend *testutil.FakeBackend
	rig     *capture.Rig
	decoder *testutil.ScriptedDecoder
	events  *eventLog
	flow    *Flow
}

func newHarness(t *testing.T, cam capture.Camera, journal Journal, tweak func(*Options)) *harness {
	t.Helper()

	h := &harness{
		backend: testutil.NewFakeBackend(t),
		decoder: testutil.NewScriptedDecoder(),
		events:  &eventLog{},
	}
	h.backend.AddUser("s1", "pw", models.RoleStudent)
	h.backend.AddUser("t1", "pw", models.RoleTeacher)

	if cam == nil {
		cam = testutil.NewCameras()
	}
	h.rig = capture.NewRig(cam, nil)

	opts := Options{
		FacePollPeriod: 5 * time.Millisecond,
		ScanPeriod:     2 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Journal:        journal,
		Observer:       h.events.observe,
	}
	if tweak != nil {
		tweak(&opts)
	}

	h.flow = New(apiclient.New(h.backend.URL()), h.rig, h.decoder, opts)
	t.Cleanup(h.flow.Logout)
	return h
}

func payload(t *testing.T, sessionID, token string) string {
	t.Helper()
	text, err := qrscan.EncodePayload(models.QRPayload{SessionID: sessionID, QRToken: token})
	if err != nil {
		t.Fatal(err)
	}
	return text
}

func waitDone(t *testing.T, f *Flow) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("flow did not finish: %v (state %s)", err, f.State())
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	tests := []struct {
		name     string
		userID   string
		password string
	}{
		{"both empty", "", ""},
		{"no password", "s1", ""},
		{"blank user", "   ", "pw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.flow.Login(context.Background(), tt.userID, tt.password)
			if !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})
	}

	if h.backend.Calls(testutil.EndpointLogin) != 0 {
		t.Error("validation failures must not reach the network")
	}
	if h.flow.State() != StateLogin {
		t.Errorf("expected login state, got %s", h.flow.State())
	}
}

func TestLogin_Rejections(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	ctx := context.Background()

	if err := h.flow.Login(ctx, "s1", "wrong"); !errors.Is(err, apiclient.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := h.flow.Login(ctx, "t1", "pw"); !errors.Is(err, ErrNotStudent) {
		t.Errorf("expected ErrNotStudent, got %v", err)
	}

	if h.flow.State() != StateLogin {
		t.Errorf("expected login state, got %s", h.flow.State())
	}
	if _, ok := h.flow.User(); ok {
		t.Error("no user should be stored after failed logins")
	}
	if h.backend.Calls(testutil.EndpointVerifyFace) != 0 {
		t.Error("face verification must not start")
	}
}

func TestLogin_TransitionsExactlyOnce(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.backend.FailFace(1000)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.flow.Login(context.Background(), "s1", "pw")
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrAlreadyLoggedIn):
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one successful login, got %d", ok)
	}
	if h.flow.State() != StateFaceVerify {
		t.Errorf("expected faceVerify, got %s", h.flow.State())
	}

	entered := h.events.count(func(e Event) bool { return e.State == StateFaceVerify && e.Err == nil })
	if entered != 1 {
		t.Errorf("expected one transition into faceVerify, got %d", entered)
	}
}

func TestFlow_FaceRetryThenMark(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	sess := h.backend.AddSession("CS101", "t1")
	h.backend.FailFace(1)
	h.decoder.Set(payload(t, sess.SessionID, sess.QRToken))

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, h.flow)

	if h.flow.State() != StateDone {
		t.Fatalf("expected done, got %s", h.flow.State())
	}
	if got := h.backend.Calls(testutil.EndpointVerifyFace); got != 2 {
		t.Errorf("expected face success on the 2nd attempt, got %d calls", got)
	}
	if h.events.count(func(e Event) bool { return e.State == StateQRScan && e.Err == nil }) != 1 {
		t.Error("expected one transition into qrScan")
	}

	records := h.backend.Attendance(sess.SessionID)
	if len(records) != 1 || records[0].UserID != "s1" {
		t.Errorf("expected s1 to be marked, got %+v", records)
	}
	marks := h.backend.MarkRequests()
	if len(marks) != 1 || marks[0].ImageBase64 == "" || marks[0].QRToken != sess.QRToken {
		t.Errorf("unexpected mark requests %+v", marks)
	}
	if h.rig.Active() != 0 {
		t.Errorf("expected all cameras released, %d open", h.rig.Active())
	}
}

func TestFlow_InvalidPayloadNeverMarks(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.decoder.Set(`{"sessionId":"sess-1"}`, `{"qrToken":"tok"}`, "hello", `{"sessionId":"sess-1"}`)

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, waitFor, func() bool { return h.decoder.Calls() > 20 }, "decoder was not polled")

	if h.backend.Calls(testutil.EndpointMarkLive) != 0 {
		t.Error("invalid payloads must not trigger a mark request")
	}
	if h.flow.State() != StateQRScan {
		t.Errorf("expected to stay in qrScan, got %s", h.flow.State())
	}
	if h.events.count(func(e Event) bool { return errors.Is(e.Err, qrscan.ErrInvalidPayload) }) == 0 {
		t.Error("expected an invalid payload event")
	}
}

func TestFlow_ExpiredTokenIsNotResubmitted(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	sess := h.backend.AddSession("CS101", "t1")
	h.decoder.Set(payload(t, sess.SessionID, "tok-old"))

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, waitFor, func() bool {
		return h.backend.Calls(testutil.EndpointMarkLive) == 1
	}, "expired token was never submitted")

	// Keep scanning the same stale code for a while
	seen := h.decoder.Calls()
	testutil.Eventually(t, waitFor, func() bool { return h.decoder.Calls() > seen+20 }, "scanning stopped")

	if got := h.backend.Calls(testutil.EndpointMarkLive); got != 1 {
		t.Errorf("stale token resubmitted: %d mark calls", got)
	}
	if h.flow.State() != StateQRScan {
		t.Fatalf("expected to stay in qrScan after expiry, got %s", h.flow.State())
	}
	if h.flow.Halted() {
		t.Fatal("expiry must not halt the flow")
	}

	// The teacher's screen rotates to a fresh code
	h.decoder.Set(payload(t, sess.SessionID, sess.QRToken))
	waitDone(t, h.flow)

	if got := h.backend.Calls(testutil.EndpointMarkLive); got != 2 {
		t.Errorf("expected 2 mark calls, got %d", got)
	}
}

func TestFlow_FinalizedSessionStopsMarks(t *testing.T) {
	journal := testutil.SetupJournal(t)
	h := newHarness(t, nil, journal, nil)
	sess := h.backend.AddSession("CS101", "t1")
	h.backend.FinalizeSession(sess.SessionID)

	fresh := h.backend.RotateToken(sess.SessionID)
	h.decoder.Set(
		payload(t, sess.SessionID, sess.QRToken),
		payload(t, sess.SessionID, fresh),
		payload(t, sess.SessionID, "tok-later"),
	)

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, waitFor, func() bool { return h.decoder.Calls() > 30 }, "decoder was not polled")

	if got := h.backend.Calls(testutil.EndpointMarkLive); got != 1 {
		t.Errorf("expected a single mark for the finalized session, got %d", got)
	}
	if h.flow.State() != StateQRScan {
		t.Errorf("expected qrScan, got %s", h.flow.State())
	}

	ok, err := journal.IsFinalized(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected the journal to remember the finalized session")
	}
}

func TestFlow_JournalStaleTokenSkipped(t *testing.T) {
	journal := testutil.SetupJournal(t)
	h := newHarness(t, nil, journal, nil)
	sess := h.backend.AddSession("CS101", "t1")

	_, err := journal.Record(context.Background(), models.Attempt{
		UserID: "s1", SessionID: sess.SessionID, QRToken: sess.QRToken, Outcome: models.OutcomeExpired,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.decoder.Set(payload(t, sess.SessionID, sess.QRToken))

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, waitFor, func() bool { return h.decoder.Calls() > 20 }, "decoder was not polled")

	if got := h.backend.Calls(testutil.EndpointMarkLive); got != 0 {
		t.Errorf("token recorded as expired was submitted %d times", got)
	}
}

func TestFlow_AlreadyMarkedIsDone(t *testing.T) {
	journal := testutil.SetupJournal(t)
	h := newHarness(t, nil, journal, nil)
	sess := h.backend.AddSession("CS101", "t1")
	h.backend.ScriptMarks("Attendance already marked")
	h.decoder.Set(payload(t, sess.SessionID, sess.QRToken))

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, h.flow)

	history, err := journal.History(context.Background(), "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Outcome != models.OutcomeAlreadyMarked {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestFlow_MismatchRetriesWithBackoff(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	sess := h.backend.AddSession("CS101", "t1")
	h.backend.ScriptMarks("Face not matched")
	h.decoder.Set(payload(t, sess.SessionID, sess.QRToken))

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, h.flow)

	if got := h.backend.Calls(testutil.EndpointMarkLive); got != 2 {
		t.Errorf("expected one retry after a mismatch, got %d calls", got)
	}
}

func TestFlow_MaxAttempts(t *testing.T) {
	h := newHarness(t, nil, nil, func(o *Options) { o.MaxAttempts = 3 })
	h.backend.FailFace(100)

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := h.flow.Wait(ctx); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	if got := h.backend.Calls(testutil.EndpointVerifyFace); got != 3 {
		t.Errorf("expected 3 face checks, got %d", got)
	}
	if !h.flow.Halted() || h.flow.State() != StateFaceVerify {
		t.Errorf("expected halted in faceVerify, got halted=%v state=%s", h.flow.Halted(), h.flow.State())
	}
}

func TestFlow_PermissionDeniedHaltsAndResumes(t *testing.T) {
	cam := testutil.NewDeniedCamera()
	h := newHarness(t, cam, nil, nil)
	sess := h.backend.AddSession("CS101", "t1")
	h.decoder.Set(payload(t, sess.SessionID, sess.QRToken))

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := h.flow.Wait(ctx); !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if h.flow.State() != StateFaceVerify {
		t.Errorf("permission errors must not change state, got %s", h.flow.State())
	}
	if h.backend.Calls(testutil.EndpointVerifyFace) != 0 {
		t.Error("no face check without a camera")
	}

	cam.Allow()
	if err := h.flow.Resume(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, h.flow)

	if err := h.flow.Resume(); !errors.Is(err, ErrNotHalted) {
		t.Errorf("expected ErrNotHalted, got %v", err)
	}
}

func TestFlow_LogoutStopsEverything(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.backend.FailFace(1000)

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, waitFor, func() bool {
		return h.backend.Calls(testutil.EndpointVerifyFace) >= 2
	}, "face verification did not start")

	h.flow.Logout()

	if h.flow.State() != StateLogin {
		t.Errorf("expected login after logout, got %s", h.flow.State())
	}
	if _, ok := h.flow.User(); ok {
		t.Error("user must be cleared on logout")
	}
	if h.rig.Active() != 0 {
		t.Errorf("expected no open cameras after logout, got %d", h.rig.Active())
	}

	time.Sleep(20 * time.Millisecond)
	calls := h.backend.Calls(testutil.EndpointVerifyFace)
	time.Sleep(50 * time.Millisecond)
	if got := h.backend.Calls(testutil.EndpointVerifyFace); got != calls {
		t.Errorf("requests continued after logout: %d -> %d", calls, got)
	}

	// A fresh login starts over
	h.backend.FailFace(0)
	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatalf("login after logout: %v", err)
	}
}

// orderCamera records how many streams were open whenever a device opens.
type orderCamera struct {
	*capture.MemoryCamera
	rig *capture.Rig

	mu     sync.Mutex
	active map[string]int
}

func (c *orderCamera) Open(ctx context.Context, d capture.Device) (capture.Stream, error) {
	c.mu.Lock()
	c.active[d.ID] = c.rig.Active()
	c.mu.Unlock()
	return c.MemoryCamera.Open(ctx, d)
}

func TestFlow_FrontCameraReleasedBeforeBack(t *testing.T) {
	cam := &orderCamera{MemoryCamera: testutil.NewCameras(), active: make(map[string]int)}
	h := newHarness(t, cam, nil, nil)
	cam.rig = h.rig
	sess := h.backend.AddSession("CS101", "t1")
	h.decoder.Set(payload(t, sess.SessionID, sess.QRToken))

	if err := h.flow.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, h.flow)

	cam.mu.Lock()
	defer cam.mu.Unlock()
	n, ok := cam.active[testutil.BackCameraID]
	if !ok {
		t.Fatal("back camera never opened")
	}
	if n != 0 {
		t.Errorf("expected no open streams when the back camera starts, got %d", n)
	}
}

// slowAPI holds Login and VerifyFace until released. VerifyFace reports
// success even when its context was canceled, like a reply already in
// flight when the user logs out.
type slowAPI struct {
	loginStarted chan struct{}
	releaseLogin chan struct{}
	faceStarted  chan struct{}
	releaseFace  chan struct{}
	marks        chan models.MarkLiveRequest
}

func newSlowAPI() *slowAPI {
	return &slowAPI{
		loginStarted: make(chan struct{}, 1),
		releaseLogin: make(chan struct{}),
		faceStarted:  make(chan struct{}, 1),
		releaseFace:  make(chan struct{}),
		marks:        make(chan models.MarkLiveRequest, 8),
	}
}

func (a *slowAPI) Login(ctx context.Context, userID, password string) (*models.LoginResponse, error) {
	select {
	case a.loginStarted <- struct{}{}:
	default:
	}
	<-a.releaseLogin
	return &models.LoginResponse{UserID: userID, Role: models.RoleStudent, Token: "tok"}, nil
}

func (a *slowAPI) VerifyFace(ctx context.Context, userID, imageBase64 string) error {
	select {
	case a.faceStarted <- struct{}{}:
	default:
	}
	select {
	case <-a.releaseFace:
	case <-ctx.Done():
	}
	return nil
}

func (a *slowAPI) MarkAttendanceLive(ctx context.Context, req models.MarkLiveRequest) error {
	a.marks <- req
	return nil
}

func (a *slowAPI) SetToken(string) {}

func TestLogin_ResultAfterLogoutIsDiscarded(t *testing.T) {
	api := newSlowAPI()
	events := &eventLog{}
	rig := capture.NewRig(testutil.NewCameras(), nil)
	f := New(api, rig, testutil.NewScriptedDecoder(), Options{Observer: events.observe})

	result := make(chan error, 1)
	go func() { result <- f.Login(context.Background(), "s1", "pw") }()

	select {
	case <-api.loginStarted:
	case <-time.After(waitFor):
		t.Fatal("login never reached the backend")
	}
	f.Logout()
	close(api.releaseLogin)

	select {
	case err := <-result:
		if !errors.Is(err, ErrDiscarded) {
			t.Fatalf("expected ErrDiscarded, got %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("login never returned")
	}

	if f.State() != StateLogin {
		t.Errorf("expected login state, got %s", f.State())
	}
	if _, ok := f.User(); ok {
		t.Error("a discarded login must not set the user")
	}
	if rig.Active() != 0 {
		t.Errorf("expected no open cameras, got %d", rig.Active())
	}
	if n := events.count(func(e Event) bool { return e.State == StateFaceVerify }); n != 0 {
		t.Errorf("expected no faceVerify events, got %d", n)
	}
}

func TestFlow_FaceSuccessAfterLogoutIsDiscarded(t *testing.T) {
	api := newSlowAPI()
	close(api.releaseLogin)
	events := &eventLog{}
	cam := &orderCamera{MemoryCamera: testutil.NewCameras(), active: make(map[string]int)}
	rig := capture.NewRig(cam, nil)
	cam.rig = rig
	decoder := testutil.NewScriptedDecoder(payload(t, "sess-1", "tok-1"))
	f := New(api, rig, decoder, Options{
		FacePollPeriod: 5 * time.Millisecond,
		ScanPeriod:     2 * time.Millisecond,
		Observer:       events.observe,
	})

	if err := f.Login(context.Background(), "s1", "pw"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-api.faceStarted:
	case <-time.After(waitFor):
		t.Fatal("face check never started")
	}

	// VerifyFace answers success only once Logout cancels it
	f.Logout()
	// Give a wrongly started scan loop time to show up
	time.Sleep(30 * time.Millisecond)

	if f.State() != StateLogin {
		t.Errorf("expected login state, got %s", f.State())
	}
	if rig.Active() != 0 {
		t.Errorf("expected no open cameras, got %d", rig.Active())
	}
	cam.mu.Lock()
	_, backOpened := cam.active[testutil.BackCameraID]
	cam.mu.Unlock()
	if backOpened {
		t.Error("back camera opened after logout")
	}
	if len(api.marks) != 0 {
		t.Error("mark submitted after logout")
	}
	if decoder.Calls() != 0 {
		t.Errorf("expected no decode attempts, got %d", decoder.Calls())
	}
	if n := events.count(func(e Event) bool { return e.State == StateQRScan }); n != 0 {
		t.Errorf("expected no qrScan events, got %d", n)
	}
}

func TestLogin_NonStudentAfterLogoutIsSilent(t *testing.T) {
	api := &roleAPI{slowAPI: newSlowAPI(), role: models.RoleTeacher}
	events := &eventLog{}
	f := New(api, capture.NewRig(testutil.NewCameras(), nil), testutil.NewScriptedDecoder(), Options{Observer: events.observe})

	result := make(chan error, 1)
	go func() { result <- f.Login(context.Background(), "t1", "pw") }()

	<-api.loginStarted
	f.Logout()
	close(api.releaseLogin)

	if err := <-result; !errors.Is(err, ErrNotStudent) {
		t.Fatalf("expected ErrNotStudent, got %v", err)
	}
	if n := events.count(func(e Event) bool { return errors.Is(e.Err, ErrNotStudent) }); n != 0 {
		t.Errorf("expected no event for a stale login, got %d", n)
	}
}

// roleAPI is a slowAPI that logs everyone in with a fixed role.
type roleAPI struct {
	*slowAPI
	role string
}

func (a *roleAPI) Login(ctx context.Context, userID, password string) (*models.LoginResponse, error) {
	resp, err := a.slowAPI.Login(ctx, userID, password)
	if resp != nil {
		resp.Role = a.role
	}
	return resp, err
}
