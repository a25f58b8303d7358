// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the faceattend command, a terminal client for the
face-recognition attendance backend.

Students verify their face with the front camera, then scan the class QR
code with the rear camera. Teachers run a session that shows a rotating QR
code and live attendance. Admins approve or reject new registrations.

# Usage

	faceattend [global flags] <command> [command flags]

Commands:

	student  -u ID [-p PASSWORD]                 mark attendance
	teacher  -class ID (-teacher ID | -resume)   run a class session
	admin    -u USER [-p PASSWORD]               review registrations
	register -u ID -name NAME -p PASSWORD        request an account
	history  [-u ID] [-n N]                      show recorded attempts
	hashpw   PASSWORD                            print a bcrypt hash

# Configuration

Flags override environment variables, which override defaults. A .env
file is loaded when present (-env to change the path).

  - API_BASE_URL (-api): backend base URL
  - REQUEST_TIMEOUT (-timeout): per-request timeout (default: 10s)
  - CAMERA_BACKEND (-camera): dir or gocv
  - FRONT_CAMERA, BACK_CAMERA (-front, -back): frame directory or device index
  - DATABASE_TYPE, DATABASE_URL (-t, -d): attempt journal (default: sqlite file)
  - ADMIN_USERNAME, ADMIN_PASSWORD_HASH: local admin gate
  - LOG_LEVEL (-log-level): debug, info, warn or error

Logs go to stderr as text on a terminal and as JSON otherwise.

# Architecture

  - screens: one terminal screen per role
  - orchestrator: the student login, face and QR state machine
  - teacher, admin, registration: the other role workflows
  - apiclient: the backend gateway
  - capture, qrscan: cameras and QR codes
  - db: the local attempt journal (SQLite or PostgreSQL)
  - auth, cliparse, middleware, models: shared plumbing

See package documentation for each component.
*/
package main
