// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config with global settings plus the command to run:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# Config Fields

  - APIBaseURL: backend base URL (default: the hosted backend)
  - RequestTimeout: per-request timeout (default: 10s)
  - FacePollPeriod: delay between face verification attempts (default: 2s)
  - ScanPeriod: delay between QR decode attempts (default: 200ms)
  - MaxBackoff, MaxAttempts: retry policy for the student flow
  - QRRefreshPeriod: teacher QR token refresh (default: 20s)
  - AttendancePollPeriod: teacher attendance polling (default: 10s)
  - AdminRefreshPeriod: pending registration refresh (default: 10s)
  - DatabaseType, DatabaseURL: local attempt journal (default: sqlite faceattend.db)
  - CameraBackend, FrontCamera, BackCamera: capture devices
  - AdminUsername, AdminPasswordHash: local admin gate (env only)

# Sources

Values are resolved in order:

	CLI flag → environment variable → .env file → default

The .env file is loaded with godotenv and never overrides variables that are
already set in the environment. A missing .env file is not an error.

	API_BASE_URL           → -api
	REQUEST_TIMEOUT        → -timeout
	FACE_POLL_PERIOD       → -face-poll
	SCAN_PERIOD            → -scan-period
	RETRY_MAX_BACKOFF      → -max-backoff
	RETRY_MAX_ATTEMPTS     → -max-attempts
	QR_REFRESH_PERIOD      → -qr-refresh
	ATTENDANCE_POLL_PERIOD → -attendance-poll
	ADMIN_REFRESH_PERIOD   → -admin-refresh
	DATABASE_URL           → -d
	DATABASE_TYPE          → -t
	CAMERA_BACKEND         → -camera
	FRONT_CAMERA           → -front
	BACK_CAMERA            → -back
	LOG_LEVEL              → -log-level

# Commands

Each command has its own flag set:

	faceattend student  -u ID -p PASSWORD
	faceattend teacher  -teacher ID -class ID [-duration 10m] [-resume]
	faceattend admin    -u admin -p PASSWORD
	faceattend register -u ID -name NAME [-email E] -p PASSWORD [-role student]
	faceattend history  [-u ID] [-n 20]
*/
package cliparse
