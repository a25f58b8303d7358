// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no matching camera")
	ErrClosed           = errors.New("camera stream closed")
	ErrNoFrame          = errors.New("no frame available")
)

// Facing is the capability a device reports about which way it points.
type Facing int

const (
	FacingUnknown Facing = iota
	FacingFront
	FacingBack
)

func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	case FacingBack:
		return "back"
	}
	return "unknown"
}

type Device struct {
	ID     string
	Label  string
	Facing Facing
}

// Camera enumerates devices and opens streams on them.
type Camera interface {
	Devices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, d Device) (Stream, error)
}

// Stream is one open device. Close releases the hardware and is safe to
// call more than once.
type Stream interface {
	Device() Device
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// Selector describes the device a step wants. DeviceID wins over Facing.
type Selector struct {
	DeviceID string
	Facing   Facing
}

// Picker asks the user to choose when no device reports the wanted facing.
type Picker func(ctx context.Context, devices []Device) (Device, error)

// Choose picks a device for sel. Devices are matched by explicit ID, then by
// reported facing, then by asking pick. A lone device is used as is when
// there is nobody to ask.
func Choose(ctx context.Context, devices []Device, sel Selector, pick Picker) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevice
	}

	if sel.DeviceID != "" {
		for _, d := range devices {
			if d.ID == sel.DeviceID {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("%w: id %q", ErrNoDevice, sel.DeviceID)
	}

	if sel.Facing != FacingUnknown {
		for _, d := range devices {
			if d.Facing == sel.Facing {
				return d, nil
			}
		}
	}

	if pick != nil {
		d, err := pick(ctx, devices)
		if err != nil {
			return Device{}, fmt.Errorf("pick camera: %w", err)
		}
		return d, nil
	}
	if len(devices) == 1 {
		return devices[0], nil
	}
	return Device{}, fmt.Errorf("%w: facing %s", ErrNoDevice, sel.Facing)
}

// Backend builds a Camera from the front and back device specs in config.
type Backend func(front, back string) (Camera, error)

var backends = map[string]Backend{
	"dir": func(front, back string) (Camera, error) { return NewDirCamera(front, back) },
}

// NewCamera returns the camera for a configured backend name.
func NewCamera(backend, front, back string) (Camera, error) {
	b, ok := backends[backend]
	if !ok {
		names := make([]string, 0, len(backends))
		for name := range backends {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown camera backend %q (available: %s)", backend, strings.Join(names, ", "))
	}
	return b(front, back)
}
