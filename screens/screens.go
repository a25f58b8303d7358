// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package screens

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/capture"
	"github.com/danielhkuo/faceattend/cliparse"
	"github.com/danielhkuo/faceattend/db"
	"github.com/danielhkuo/faceattend/models"
	"github.com/danielhkuo/faceattend/qrscan"
)

// ErrQuit is returned when the user leaves a screen with "quit" or EOF.
var ErrQuit = errors.New("quit")

// qrPNGSize is the edge length of QR images written to disk.
const qrPNGSize = 320

// Deps holds everything a screen needs. API and Camera are required for
// the screens that talk to the backend; Journal is optional.
type Deps struct {
	Config  cliparse.Config
	API     *apiclient.Client
	Camera  capture.Camera
	Journal *db.Journal
	Decoder qrscan.Decoder

	In  io.Reader
	Out io.Writer
	// QRDir is where QR images go when Out is not a terminal.
	QRDir string
}

type Screens struct {
	cfg     cliparse.Config
	api     *apiclient.Client
	rig     *capture.Rig
	journal *db.Journal
	decoder qrscan.Decoder
	out     io.Writer
	tty     bool
	qrDir   string

	in       io.Reader
	lineOnce sync.Once
	lineCh   chan string

	outMu sync.Mutex
}

func New(d Deps) *Screens {
	s := &Screens{
		cfg:     d.Config,
		api:     d.API,
		journal: d.Journal,
		decoder: d.Decoder,
		in:      d.In,
		out:     d.Out,
		tty:     IsTerminal(d.Out),
		qrDir:   d.QRDir,
	}
	if s.in == nil {
		s.in = os.Stdin
	}
	if s.out == nil {
		s.out = os.Stdout
		s.tty = IsTerminal(os.Stdout)
	}
	if s.decoder == nil {
		s.decoder = qrscan.NewDecoder()
	}
	if s.qrDir == "" {
		s.qrDir = "."
	}
	if d.Camera != nil {
		s.rig = capture.NewRig(d.Camera, s.pickDevice)
	}
	return s
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *Screens) printf(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// lines returns the shared channel of input lines. It is closed on EOF.
func (s *Screens) lines() <-chan string {
	s.lineOnce.Do(func() {
		s.lineCh = make(chan string)
		go func() {
			defer close(s.lineCh)
			sc := bufio.NewScanner(s.in)
			for sc.Scan() {
				s.lineCh <- strings.TrimSpace(sc.Text())
			}
		}()
	})
	return s.lineCh
}

// readLine waits for the next input line.
func (s *Screens) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-s.lines():
		if !ok {
			return "", ErrQuit
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// pickDevice asks the user to choose a camera when none reports the
// wanted facing.
func (s *Screens) pickDevice(ctx context.Context, devices []capture.Device) (capture.Device, error) {
	s.printf("Select a camera:\n")
	for i, d := range devices {
		s.printf("  %d) %s (%s)\n", i+1, firstNonEmpty(d.Label, d.ID), d.Facing)
	}
	for {
		s.printf("camera> ")
		line, err := s.readLine(ctx)
		if err != nil {
			return capture.Device{}, err
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(devices) {
			return devices[n-1], nil
		}
		s.printf("Enter a number between 1 and %d\n", len(devices))
	}
}

// showQR prints p as terminal blocks, or writes a PNG when output is not
// a terminal. It returns the file written, if any.
func (s *Screens) showQR(p models.QRPayload) (string, error) {
	if s.tty {
		art, err := qrscan.RenderTerminal(p)
		if err != nil {
			return "", err
		}
		s.printf("%s\n", art)
		return "", nil
	}

	data, err := qrscan.RenderPNG(p, qrPNGSize)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.qrDir, "qr-"+p.SessionID+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write qr image: %w", err)
	}
	s.printf("QR code written to %s\n", path)
	return path, nil
}

// ago formats t relative to now, or "never" for the zero time.
func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// until formats how long until t, e.g. "in 3 minutes".
func until(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return humanize.RelTime(t, time.Now(), "ago", "from now")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
