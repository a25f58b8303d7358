// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db stores the local attempt journal.

# Connecting

Open picks the driver by type and pings the database:

	conn, err := db.Open(db.TypeSQLite, "faceattend.db")
	conn, err := db.Open(db.TypePostgres, "postgres://...")

SQLite (modernc.org/sqlite, pure Go) is the default; PostgreSQL uses lib/pq.

# Schema Creation

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - attempt: one row per attendance submission and its outcome
  - finalized_session: sessions the backend reported as finalized

# Journal

	j := db.NewJournal(conn)
	j.Record(ctx, models.Attempt{UserID: "s1", SessionID: id, QRToken: tok, Outcome: models.OutcomeExpired})
	stale, _ := j.IsStale(ctx, id, tok) // true

A token recorded as expired is never submitted again, and neither is any
token for a finalized session.
*/
package db
