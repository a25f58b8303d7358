// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"context"
	"database/sql"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/faceattend/capture"
	"github.com/danielhkuo/faceattend/db"
	"github.com/danielhkuo/faceattend/qrscan"
)

// Device IDs of the cameras returned by NewCameras
const (
	FrontCameraID = "cam-front"
	BackCameraID  = "cam-back"
)

// Frame returns a small solid grey image.
func Frame() image.Image {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

// FramePainted returns a solid frame of the given colour, useful when a
// test needs to tell frames apart.
func FramePainted(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// NewCameras returns a camera with one front and one back device.
func NewCameras() *capture.MemoryCamera {
	cam := capture.NewMemoryCamera()
	cam.AddDevice(capture.Device{ID: FrontCameraID, Label: "Front", Facing: capture.FacingFront}, Frame())
	cam.AddDevice(capture.Device{ID: BackCameraID, Label: "Back", Facing: capture.FacingBack}, Frame())
	return cam
}

// DeniedCamera reports devices but refuses to open them until Allow is
// called.
type DeniedCamera struct {
	*capture.MemoryCamera
	allowed atomic.Bool
}

func NewDeniedCamera() *DeniedCamera {
	return &DeniedCamera{MemoryCamera: NewCameras()}
}

// Allow grants permission; later opens succeed.
func (c *DeniedCamera) Allow() {
	c.allowed.Store(true)
}

func (c *DeniedCamera) Open(ctx context.Context, d capture.Device) (capture.Stream, error) {
	if !c.allowed.Load() {
		return nil, capture.ErrPermissionDenied
	}
	return c.MemoryCamera.Open(ctx, d)
}

// ScriptedDecoder returns queued QR texts, one per frame. Once the script
// runs out it keeps returning the last text, or ErrNoCode when the script
// was empty.
type ScriptedDecoder struct {
	mu    sync.Mutex
	texts []string
	last  string
	calls int
}

func NewScriptedDecoder(texts ...string) *ScriptedDecoder {
	return &ScriptedDecoder{texts: texts}
}

// Set replaces the remaining script.
func (d *ScriptedDecoder) Set(texts ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = texts
	d.last = ""
}

func (d *ScriptedDecoder) Decode(img image.Image) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if len(d.texts) > 0 {
		d.last = d.texts[0]
		d.texts = d.texts[1:]
	}
	if d.last == "" {
		return "", qrscan.ErrNoCode
	}
	return d.last, nil
}

// Calls counts decode attempts.
func (d *ScriptedDecoder) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// SetupJournal opens a fresh SQLite journal in the test's temp dir.
func SetupJournal(t *testing.T) *db.Journal {
	t.Helper()

	conn, err := db.Open(db.TypeSQLite, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to open test journal: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return db.NewJournal(conn)
}

// OpenTestDB opens a fresh SQLite database without a schema.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(db.TypeSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("Timed out after %v: %s", timeout, msg)
	}
}

// AssertErrorIs checks that err matches target
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf("Expected error %v, got %v", target, err)
	}
}
