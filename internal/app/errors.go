package service

import "errors"

// Sentinel kinds for service operations.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadySolved  = errors.New("level already solved by team")
	ErrLevelInactive  = errors.New("level is not active")
	ErrNoHintsLeft    = errors.New("no hints left for level")
	ErrQueueFull      = errors.New("event queue full")
	ErrUnknownBackend = errors.New("unknown backend")
)
