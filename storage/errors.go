package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a document or collection does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidName is returned for collection or document names that cannot
	// be mapped onto the backing store.
	ErrInvalidName = errors.New("invalid document name")
)

// IsNotFound reports whether err means the requested document is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
