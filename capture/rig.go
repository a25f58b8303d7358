// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package capture

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
)

// Rig tracks every stream a screen has open so teardown can release all of
// them, whatever path the screen exits by.
type Rig struct {
	cam  Camera
	pick Picker

	mu   sync.Mutex
	open map[*trackedStream]struct{}
}

func NewRig(cam Camera, pick Picker) *Rig {
	return &Rig{
		cam:  cam,
		pick: pick,
		open: make(map[*trackedStream]struct{}),
	}
}

// Start chooses a device for sel and opens it.
func (r *Rig) Start(ctx context.Context, sel Selector) (Stream, error) {
	devices, err := r.cam.Devices(ctx)
	if err != nil {
		return nil, err
	}
	d, err := Choose(ctx, devices, sel, r.pick)
	if err != nil {
		return nil, err
	}

	s, err := r.cam.Open(ctx, d)
	if err != nil {
		return nil, err
	}

	ts := &trackedStream{Stream: s, rig: r}
	r.mu.Lock()
	r.open[ts] = struct{}{}
	r.mu.Unlock()

	slog.Debug("camera started", "device", d.ID, "facing", d.Facing.String())
	return ts, nil
}

// Active is the number of streams not yet closed.
func (r *Rig) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// CloseAll stops every open stream.
func (r *Rig) CloseAll() error {
	r.mu.Lock()
	streams := make([]*trackedStream, 0, len(r.open))
	for s := range r.open {
		streams = append(streams, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type trackedStream struct {
	Stream
	rig  *Rig
	once sync.Once
	err  error
}

func (s *trackedStream) Close() error {
	s.once.Do(func() {
		s.err = s.Stream.Close()
		s.rig.mu.Lock()
		delete(s.rig.open, s)
		s.rig.mu.Unlock()
		slog.Debug("camera stopped", "device", s.Device().ID)
	})
	return s.err
}

// Grab captures one frame from s and encodes it for upload.
func Grab(ctx context.Context, s Stream) (string, error) {
	img, err := s.Frame(ctx)
	if err != nil {
		return "", err
	}
	return EncodeFrame(img)
}

// Snapshot opens a device, grabs one encoded frame and releases the device
// before returning.
func (r *Rig) Snapshot(ctx context.Context, sel Selector) (string, image.Image, error) {
	s, err := r.Start(ctx, sel)
	if err != nil {
		return "", nil, err
	}
	defer s.Close()

	img, err := s.Frame(ctx)
	if err != nil {
		return "", nil, err
	}
	enc, err := EncodeFrame(img)
	if err != nil {
		return "", nil, err
	}
	return enc, img, nil
}
