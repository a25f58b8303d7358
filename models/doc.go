// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines the request, response, and domain types exchanged with
the attendance backend.

# Envelope

Every backend response shares one envelope:

	{"success": true, ...payload}
	{"success": false, "error": "QR expired"}

Response types embed Envelope so the API client can check Success and Error
without knowing the payload.

# Request Types

  - LoginRequest: userId, password
  - VerifyFaceRequest: userId, imageBase64
  - MarkLiveRequest: userId, sessionId, imageBase64, qrToken
  - MarkRequest: userId, sessionId, qrToken
  - RegisterRequest: userId, name, email, password, role, imageBase64
  - UserIDRequest: userId (admin approve/reject)
  - CreateSessionRequest: teacherId, classId, durationMinutes
  - FinalizeRequest: sessionId

# Domain Types

  - Session: teacher session with its rotating QR token
  - AttendanceRecord: one student's mark in a session
  - LoggedUser: identity held in memory after login
  - PendingRegistration: registration waiting for admin review
  - QRPayload: JSON text embedded in the classroom QR code
  - Attempt: local journal row for one attendance submission

# Constants

Roles:

	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"

Attendance status:

	StatusPending   = "pending"
	StatusPresent   = "present"
	StatusFinalized = "finalized"
*/
package models
