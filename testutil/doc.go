// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package testutil provides fakes and helpers shared by package tests.

# FakeBackend

An httptest server implementing every backend endpoint in memory:

	b := testutil.NewFakeBackend(t)
	b.AddUser("s1", "pw", models.RoleStudent)
	sess := b.AddSession("CS101", "t1")
	client := apiclient.New(b.URL())

Behaviour is scriptable (FailFace, ScriptMarks, ExpireTokens, SetDown) and
every endpoint counts its calls:

	if b.Calls(testutil.EndpointMarkLive) != 1 { ... }

# Capture

NewCameras returns a memory camera with a front and a back device;
ScriptedDecoder stands in for the QR decoder.

# Journal

SetupJournal opens a fresh SQLite journal under t.TempDir().
*/
package testutil
