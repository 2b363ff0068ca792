package domain

import "errors"

// Sentinel errors. Check with errors.Is.
var (
	// ErrInvalidInput marks a malformed request that must not be coerced.
	ErrInvalidInput = errors.New("examcards: invalid input")
	// ErrStorage marks any failure of the review state store.
	ErrStorage = errors.New("examcards: storage error")
	// ErrStaleWrite is returned when an upsert was computed from an outdated read.
	// It is always accompanied by ErrStorage.
	ErrStaleWrite = errors.New("examcards: stale write rejected")
)
