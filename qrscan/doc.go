// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package qrscan turns camera frames into attendance payloads and back.

# Decoding

A Decoder finds a QR code in one frame. ZXingDecoder wraps gozxing with
the TRY_HARDER hint; any failure to find or read a code is reported as
ErrNoCode so callers can simply try the next frame.

	p, err := qrscan.Scan(qrscan.NewDecoder(), frame)
	switch {
	case errors.Is(err, qrscan.ErrNoCode):
		// keep scanning
	case errors.Is(err, qrscan.ErrInvalidPayload):
		// a code, but not one of ours
	}

# Payload

The code carries a JSON object with sessionId and qrToken. ParsePayload
rejects anything missing either field.

# Rendering

EncodePayload, RenderPNG and RenderTerminal produce the code a teacher
shows to the class, using skip2/go-qrcode.
*/
package qrscan
