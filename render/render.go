// Package render turns a resolution set into output: a git branch holding
// one file per entry, a Mongo upsert script, a plan listing, or a KV
// publication.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/c360studio/autobrancher/resolve"
)

// ErrNoProtocol is returned when a set does not start with a protocol entry.
var ErrNoProtocol = errors.New("resolution set has no protocol entry")

// Renderer consumes one resolution set. Entries are emitted in set order.
type Renderer interface {
	Render(ctx context.Context, set *resolve.Set) error
}

// Writer writes a file relative to its root and returns the path written.
type Writer interface {
	WriteFile(path string, data []byte) (string, error)
}

// protocolFields returns the method and commandName of the set's root.
func protocolFields(set *resolve.Set) (method, commandName string, err error) {
	protocol, ok := set.Protocol()
	if !ok {
		return "", "", ErrNoProtocol
	}
	return protocol.Field("method"), protocol.Field("commandName"), nil
}

// indentJSON re-indents raw JSON without reordering keys.
func indentJSON(raw []byte, indent string) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", indent); err != nil {
		return nil, fmt.Errorf("indent: %w", err)
	}
	return buf.Bytes(), nil
}
