package lua

import "errors"

// Runtime errors.
var (
	// ErrStateClosed is returned when using a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNoHandler is returned when the entry file defines no on_trigger function.
	ErrNoHandler = errors.New("extension defines no on_trigger function")

	// ErrEntryNotLoaded is returned when invoking before LoadEntry succeeded.
	ErrEntryNotLoaded = errors.New("extension entry point is not loaded")
)
