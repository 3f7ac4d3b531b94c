package model

import "errors"

var (
	// ErrNotFound is returned when a referenced conversation or message is missing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCursor means the append cursor of a conversation is corrupt.
	ErrInvalidCursor = errors.New("invalid append cursor")

	// ErrAlreadyAnswered is returned when a user message already has a reply.
	ErrAlreadyAnswered = errors.New("user message already answered")

	// ErrStorage wraps failures of the embedded database.
	ErrStorage = errors.New("storage failure")
)
