package db

import "github.com/pkg/errors"

var (
	// ErrSessionNotFound is returned when no row matches, or when a
	// conditional write hits a session that is no longer open.
	ErrSessionNotFound = errors.New("session not found")
	// ErrProjectNotFound is returned when a project reference does not resolve.
	ErrProjectNotFound = errors.New("project not found")
)
