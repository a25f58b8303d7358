// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package teacher runs a teacher's attendance session.

	c := teacher.New(client, teacher.Options{})
	s, err := c.Create(ctx, "t1", "CS101", 0) // 10 minutes
	defer c.Close()

While the session is open two loops run: the QR token is refreshed every
RefreshPeriod (20s) and attendance is fetched every PollPeriod (10s).

Finalize stops both loops and waits for them before returning, so no
request for the session is made afterwards. A "finalized" answer to a
refresh stops them the same way.

Export writes the attendance list as XLSX; QRCode and QRCodePNG render the
payload students scan.
*/
package teacher
