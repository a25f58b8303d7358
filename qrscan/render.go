// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package qrscan

import (
	"encoding/json"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/danielhkuo/faceattend/models"
)

// EncodePayload renders the JSON text students scan.
func EncodePayload(p models.QRPayload) (string, error) {
	if p.SessionID == "" || p.QRToken == "" {
		return "", fmt.Errorf("%w: sessionId and qrToken are required", ErrInvalidPayload)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RenderPNG draws the payload as a QR code PNG of size x size pixels.
func RenderPNG(p models.QRPayload, size int) ([]byte, error) {
	text, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

// RenderTerminal draws the payload with half-block characters for a terminal.
func RenderTerminal(p models.QRPayload) (string, error) {
	text, err := EncodePayload(p)
	if err != nil {
		return "", err
	}
	q, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	return q.ToSmallString(false), nil
}
