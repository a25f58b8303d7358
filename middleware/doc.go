// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP transport middleware and JSON helpers.

# Client Transport

Wrap the API client's transport with request logging and request IDs:

	httpClient := &http.Client{
		Transport: middleware.WithLogging(middleware.WithRequestID(nil)),
	}

WithLogging logs request completion (method, path, status, duration_ms) and
failures at warn level. WithRequestID stamps X-Request-ID with a fresh UUID
so client and backend logs can be correlated.

# JSON Helpers

Decode a backend response (the body is always closed):

	var resp models.LoginResponse
	if err := middleware.ParseJSONResponse(httpResp, &resp); err != nil {
		// malformed body
	}

The server-side helpers (JSONResponse, ErrorResponse, ParseJSONBody,
WithServerLogging) write and read the backend's envelope. They back the
in-memory backend in testutil.
*/
package middleware
