// Package storage resolves (collection, document) pairs to raw document
// content. Collections are partitions of the store; documents are named items
// within a collection.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Extension is the file extension of stored documents.
const Extension = ".json"

// Store loads documents by collection and name.
type Store interface {
	// Load returns the raw content of a document. Absent documents yield an
	// error wrapping ErrNotFound.
	Load(ctx context.Context, collection, document string) ([]byte, error)

	// List returns the document names of a collection in sorted order.
	List(ctx context.Context, collection string) ([]string, error)
}

// Document is a named piece of content destined for a collection.
type Document struct {
	Collection string
	Name       string
	Content    []byte
}

// String returns "collection/name".
func (d Document) String() string {
	return d.Collection + "/" + d.Name
}

// validateName rejects names that would escape their partition.
func validateName(kind, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty %s", ErrInvalidName, kind)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %s %q contains a path separator", ErrInvalidName, kind, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %s %q starts with a dot", ErrInvalidName, kind, name)
	}
	return nil
}
