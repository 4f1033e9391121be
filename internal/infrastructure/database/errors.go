package database

import "errors"

var (
	// ErrNoPath is returned when Open is called without a database path.
	ErrNoPath = errors.New("database: path cannot be empty")

	// ErrPingFailed is returned when the connection check fails.
	ErrPingFailed = errors.New("database: ping failed")
)
