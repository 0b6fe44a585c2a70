package session

import (
	"github.com/hatcher/worktrack/tracker/db"
	"github.com/pkg/errors"
)

var (
	// ErrSessionNotFound mirrors the store sentinel so callers only need
	// this package.
	ErrSessionNotFound = db.ErrSessionNotFound

	// ErrSessionCreationFailed is surfaced when the durable insert fails
	// even after one retry with fresh project resolution. Callers never
	// see the underlying database error.
	ErrSessionCreationFailed = errors.New("session could not be created")
)
