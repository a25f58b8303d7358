// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package qrscan

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"

	"github.com/danielhkuo/faceattend/models"
)

var (
	// ErrNoCode means the frame holds no readable QR code; try the next frame.
	ErrNoCode = errors.New("no qr code in frame")
	// ErrInvalidPayload means a code was read but is not a session payload.
	ErrInvalidPayload = errors.New("invalid qr payload")
)

// Decoder turns a frame into the text of the QR code it contains.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// ZXingDecoder decodes QR codes with gozxing.
type ZXingDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

func NewDecoder() *ZXingDecoder {
	return &ZXingDecoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

func (d *ZXingDecoder) Decode(img image.Image) (string, error) {
	if img == nil {
		return "", ErrNoCode
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	// Readers keep state between calls, so use a fresh one per frame
	result, err := zxingqr.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return result.GetText(), nil
}

// ParsePayload validates QR text as {"sessionId": ..., "qrToken": ...}.
// Both fields are required.
func ParsePayload(text string) (models.QRPayload, error) {
	var p models.QRPayload
	text = strings.TrimSpace(text)
	if text == "" {
		return p, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return models.QRPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.SessionID = strings.TrimSpace(p.SessionID)
	p.QRToken = strings.TrimSpace(p.QRToken)
	if p.SessionID == "" {
		return models.QRPayload{}, fmt.Errorf("%w: missing sessionId", ErrInvalidPayload)
	}
	if p.QRToken == "" {
		return models.QRPayload{}, fmt.Errorf("%w: missing qrToken", ErrInvalidPayload)
	}
	return p, nil
}

// Scan decodes img and parses the session payload it carries.
func Scan(d Decoder, img image.Image) (models.QRPayload, error) {
	text, err := d.Decode(img)
	if err != nil {
		return models.QRPayload{}, err
	}
	return ParsePayload(text)
}
