// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth holds the logged-in identity and the local admin gate.

# Identity

An Identity keeps the LoggedUser of one screen in memory and forwards its
bearer token to the API client:

	id := auth.NewIdentity(client)
	id.Set(models.LoggedUser{UserID: "s1", Role: models.RoleStudent, Token: tok})
	u, err := id.Require(models.RoleStudent)
	id.Clear() // logout: user and token are gone

# Admin Gate

The admin screen is guarded locally by a bcrypt hash:

	gate, err := auth.NewAdminGate(cfg.AdminUsername, cfg.AdminPasswordHash)
	err = gate.Login(id, username, password)

Without a configured hash the default admin/admin123 pair is accepted.
Generate a hash with HashPassword (or `faceattend hashpw`).
*/
package auth
