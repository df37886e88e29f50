package resolve

import "errors"

// ErrInvalidRoot marks a root protocol that cannot be decoded.
var ErrInvalidRoot = errors.New("invalid root protocol")

// RootError reports a fatal problem with the root protocol of one run.
type RootError struct {
	Err error
}

func (e *RootError) Error() string {
	return ErrInvalidRoot.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both ErrInvalidRoot and the underlying cause.
func (e *RootError) Unwrap() []error {
	return []error{ErrInvalidRoot, e.Err}
}
