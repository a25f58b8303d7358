// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MemoryCamera serves pre-loaded frames, cycling through each device's list.
// It backs the dir backend and tests.
type MemoryCamera struct {
	mu      sync.Mutex
	devices []Device
	frames  map[string][]image.Image
	opened  int
}

func NewMemoryCamera() *MemoryCamera {
	return &MemoryCamera{frames: make(map[string][]image.Image)}
}

// AddDevice registers d with the frames it will replay.
func (m *MemoryCamera) AddDevice(d Device, frames ...image.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, d)
	m.frames[d.ID] = frames
}

// SetFrames replaces the frames a device replays. Open streams pick up the
// new frames on their next read.
func (m *MemoryCamera) SetFrames(deviceID string, frames ...image.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[deviceID] = frames
}

// Opened counts every successful Open since creation.
func (m *MemoryCamera) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MemoryCamera) Devices(ctx context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

func (m *MemoryCamera) Open(ctx context.Context, d Device) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.frames[d.ID]; !ok {
		return nil, fmt.Errorf("%w: id %q", ErrNoDevice, d.ID)
	}
	m.opened++
	return &memoryStream{cam: m, dev: d}, nil
}

type memoryStream struct {
	cam *MemoryCamera
	dev Device

	mu     sync.Mutex
	next   int
	closed bool
}

func (s *memoryStream) Device() Device { return s.dev }

func (s *memoryStream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	s.cam.mu.Lock()
	frames := s.cam.frames[s.dev.ID]
	s.cam.mu.Unlock()
	if len(frames) == 0 {
		return nil, ErrNoFrame
	}
	img := frames[s.next%len(frames)]
	s.next++
	return img, nil
}

func (s *memoryStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// NewDirCamera loads every PNG/JPEG in the front and back directories and
// exposes them as two devices. Either directory may be empty.
func NewDirCamera(front, back string) (*MemoryCamera, error) {
	if front == "" && back == "" {
		return nil, fmt.Errorf("%w: set -front and/or -back to a frame directory", ErrNoDevice)
	}
	cam := NewMemoryCamera()
	for _, spec := range []struct {
		dir    string
		facing Facing
	}{{front, FacingFront}, {back, FacingBack}} {
		if spec.dir == "" {
			continue
		}
		frames, err := loadFrames(spec.dir)
		if err != nil {
			return nil, err
		}
		cam.AddDevice(Device{
			ID:     spec.facing.String(),
			Label:  spec.dir,
			Facing: spec.facing,
		}, frames...)
	}
	return cam, nil
}

func loadFrames(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, dir)
		}
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".png" || ext == ".jpg" || ext == ".jpeg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		frames = append(frames, img)
	}
	return frames, nil
}
