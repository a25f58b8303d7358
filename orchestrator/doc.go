// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package orchestrator runs the student attendance flow.

# States

	login ──► faceVerify ──► qrScan ──► done
	            ↺ retry        ↺ retry

Login validates credentials locally, calls the backend and, for a student,
moves to faceVerify exactly once. Every other role stays on login with
ErrNotStudent.

faceVerify grabs a front-camera frame each poll period and sends it to
/verifyFaceOnly. Failures back off exponentially up to MaxBackoff. On
success the front camera is closed before qrScan opens the back one.

qrScan decodes a frame every ScanPeriod. Frames without a valid payload are
skipped without any request. A valid payload is submitted together with a
fresh proof frame:

  - success or "already marked": done
  - "expired": the token is remembered and never sent again
  - "finalized": the session is remembered and never sent again
  - face mismatch or transport error: retry after backoff

# Cancellation

	flow.Logout()

Logout works from any state. It bumps the epoch, cancels the run loop and
waits for it, so results that arrive afterwards are dropped. On return the
cameras are closed and the user is cleared.

# Halting

A denied camera halts the step without changing state:

	if flow.Halted() {
		// ask for permission
		flow.Resume()
	}

# Journal

With a Journal (see package db) expired tokens and finalized sessions are
remembered across runs, and every outcome is recorded for `history`.
*/
package orchestrator
