package process

import (
	"errors"
	"io/fs"
	"os/exec"
)

// ErrAlreadyRunning is returned by Start while a previous Start is still
// supervising.
var ErrAlreadyRunning = errors.New("process: already supervised")

// RecoverableError is implemented by exit errors that know whether a
// restart can help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether a restart may fix err. Errors that do not
// implement RecoverableError count as recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// startError is a failure to launch the binary at all.
type startError struct {
	err error
}

func (e *startError) Error() string { return e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

// IsRecoverable is false when the binary is missing or not executable.
func (e *startError) IsRecoverable() bool {
	for _, fatal := range []error{fs.ErrNotExist, fs.ErrPermission, exec.ErrNotFound} {
		if errors.Is(e.err, fatal) {
			return false
		}
	}
	return true
}
