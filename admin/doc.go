// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package admin keeps the queue of registrations waiting for approval.

	q := admin.New(client, 0, nil) // refresh every 10s
	q.Start(ctx)
	defer q.Stop()

	list := q.Pending(admin.Filter{Role: models.RoleStudent, Search: "ali"})
	err := q.Approve(ctx, list[0].UserID)

Approve and Reject are idempotent: when the backend reports the
registration as already handled the call is logged and treated as done.
*/
package admin
