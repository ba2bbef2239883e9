package journal

import "errors"

var (
	// ErrNoState is returned by LoadState before any state was saved.
	ErrNoState = errors.New("journal: no saved state")

	// ErrCorruptPayload is returned when a stored payload cannot be decoded.
	ErrCorruptPayload = errors.New("journal: corrupt payload")

	// ErrClosed is returned when recording after the recorder stopped.
	ErrClosed = errors.New("journal: recorder closed")
)
