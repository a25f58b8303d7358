// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package screens is the terminal front end: one method per role screen.

# Screens

Each screen takes its dependencies from Deps, which main fills in from
the parsed config:

  - Student: login, face check, QR scan (orchestrator.Flow)
  - Teacher: session QR, live attendance, finalize, export (teacher.Controller)
  - Admin: pending registrations behind the local admin gate (admin.Queue)
  - Register: form validation and one face photo (registration.Service)
  - History: the local attempt journal (db.Journal)

Teacher and admin screens read one command per line from Deps.In. EOF or
"quit" leaves the screen. Every screen releases its cameras and stops its
background loops before returning.

# Output

QR codes are printed as terminal blocks when Deps.Out is a terminal and
written as PNG files under Deps.QRDir otherwise. Times are shown relative
to now ("3 minutes ago").
*/
package screens
