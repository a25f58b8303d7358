// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package qrscan

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/danielhkuo/faceattend/models"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    models.QRPayload
		wantErr bool
	}{
		{"valid", `{"sessionId":"abc","qrToken":"xyz"}`, models.QRPayload{SessionID: "abc", QRToken: "xyz"}, false},
		{"extra fields", `{"sessionId":"abc","qrToken":"xyz","v":2}`, models.QRPayload{SessionID: "abc", QRToken: "xyz"}, false},
		{"whitespace trimmed", ` {"sessionId":" abc ","qrToken":"xyz"} `, models.QRPayload{SessionID: "abc", QRToken: "xyz"}, false},
		{"missing sessionId", `{"qrToken":"xyz"}`, models.QRPayload{}, true},
		{"missing qrToken", `{"sessionId":"abc"}`, models.QRPayload{}, true},
		{"blank token", `{"sessionId":"abc","qrToken":"  "}`, models.QRPayload{}, true},
		{"bare session id", `abc`, models.QRPayload{}, true},
		{"url", `https://example.com/?s=abc`, models.QRPayload{}, true},
		{"empty", ``, models.QRPayload{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload(tt.text)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestEncodePayload_RequiresFields(t *testing.T) {
	if _, err := EncodePayload(models.QRPayload{SessionID: "abc"}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}

	text, err := EncodePayload(models.QRPayload{SessionID: "abc", QRToken: "xyz"})
	if err != nil {
		t.Fatal(err)
	}
	if text != `{"sessionId":"abc","qrToken":"xyz"}` {
		t.Errorf("unexpected payload text %s", text)
	}
}

func TestRenderAndScan(t *testing.T) {
	want := models.QRPayload{SessionID: "sess-42", QRToken: "tok-7"}

	data, err := RenderPNG(want, 256)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	got, err := Scan(NewDecoder(), img)
	if err != nil {
		t.Fatalf("scan rendered code: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestScan_BlankFrame(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	if _, err := Scan(NewDecoder(), img); !errors.Is(err, ErrNoCode) {
		t.Errorf("expected ErrNoCode, got %v", err)
	}
	if _, err := NewDecoder().Decode(nil); !errors.Is(err, ErrNoCode) {
		t.Errorf("expected ErrNoCode for nil frame, got %v", err)
	}
}

func TestRenderTerminal(t *testing.T) {
	out, err := RenderTerminal(models.QRPayload{SessionID: "abc", QRToken: "xyz"})
	if err != nil {
		t.Fatal(err)
	}
	if len(strings.Split(strings.TrimSpace(out), "\n")) < 10 {
		t.Errorf("terminal rendering looks too small:\n%s", out)
	}
}
