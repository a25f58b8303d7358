// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package apiclient is the only place that talks to the attendance backend.

# Construction

	client := apiclient.New(cfg.APIBaseURL, apiclient.WithTimeout(cfg.RequestTimeout))

The client is passed to every controller; there is no package-level instance.
The default transport logs each request and stamps an X-Request-ID.

# Errors

Every failure is an *Error with a Kind:

  - transport: network error, timeout, 5xx; retry with backoff
  - rejected: the backend said {"success": false, "error": "..."}
  - invalid: the body could not be decoded

Rejections also wrap a sentinel picked from the backend's message:

	err := client.MarkAttendanceLive(ctx, req)
	switch {
	case errors.Is(err, apiclient.ErrQRExpired):
		// wait for the next token
	case errors.Is(err, apiclient.ErrSessionFinalized):
		// stop submitting for this session
	case apiclient.IsTransport(err):
		// back off and retry
	}

Message returns the backend text for display.
*/
package apiclient
