package orchestrator

import "errors"

var (
	// ErrAlreadyActive is returned by Start when a session exists for the id.
	ErrAlreadyActive = errors.New("camera session already active")
	// ErrNotFound is returned when no session exists for the id.
	ErrNotFound = errors.New("camera session not found")
	// ErrNoFrame is returned by Latest before the first frame is processed.
	ErrNoFrame = errors.New("no frame captured yet")
)
