// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

//go:build gocv

package capture

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

func init() {
	backends["gocv"] = func(front, back string) (Camera, error) { return NewGoCVCamera(front, back) }
}

// GoCVCamera reads webcams through OpenCV. Device specs are capture
// indices ("0", "1"); OpenCV cannot enumerate devices, so the configured
// specs are the device list.
type GoCVCamera struct {
	devices []Device
}

func NewGoCVCamera(front, back string) (*GoCVCamera, error) {
	c := &GoCVCamera{}
	for _, spec := range []struct {
		id     string
		facing Facing
	}{{front, FacingFront}, {back, FacingBack}} {
		if spec.id == "" {
			continue
		}
		if _, err := strconv.Atoi(spec.id); err != nil {
			return nil, fmt.Errorf("gocv device %q: want a capture index", spec.id)
		}
		c.devices = append(c.devices, Device{ID: spec.id, Label: "video" + spec.id, Facing: spec.facing})
	}
	if len(c.devices) == 0 {
		c.devices = []Device{{ID: "0", Label: "video0"}}
	}
	return c, nil
}

func (c *GoCVCamera) Devices(ctx context.Context) ([]Device, error) {
	return c.devices, nil
}

func (c *GoCVCamera) Open(ctx context.Context, d Device) (Stream, error) {
	idx, err := strconv.Atoi(d.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: id %q", ErrNoDevice, d.ID)
	}
	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, openFailure(videoNode(idx), err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, openFailure(videoNode(idx), fmt.Errorf("device %d did not open", idx))
	}
	return &gocvStream{dev: d, vc: vc}, nil
}

type gocvStream struct {
	dev Device

	mu     sync.Mutex
	vc     *gocv.VideoCapture
	closed bool
}

func (s *gocvStream) Device() Device { return s.dev }

func (s *gocvStream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := s.vc.Read(&mat); !ok || mat.Empty() {
		return nil, ErrNoFrame
	}
	return mat.ToImage()
}

func (s *gocvStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.vc.Close()
}
