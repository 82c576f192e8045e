// Package testutil provides testing utilities for the authguard library.
// It includes a mock clock for deterministic window and lockout tests and
// a small builder for HTTP requests with a chosen peer address.
package testutil
