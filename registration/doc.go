// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package registration validates sign-up forms and submits them with a
// captured face photo for admin approval.
package registration
