package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/c360studio/autobrancher/reference"
	"github.com/c360studio/autobrancher/resolve"
	"github.com/c360studio/autobrancher/storage"
)

// DefaultScriptDir is the directory scripts are written to, relative to the
// writer root.
const DefaultScriptDir = "dist"

// filters names the collections whose documents are matched by a field
// rather than by their first key.
type filters struct {
	protocol string
	profile  string
}

func newFilters(opts []ScriptOption) filters {
	f := filters{protocol: "protocol", profile: "resource_profile"}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// ScriptOption configures script generation.
type ScriptOption func(*filters)

// WithFilterCollections sets the protocol collection (filtered by url) and
// the resource profile collection (filtered by resource). Empty values keep
// the defaults.
func WithFilterCollections(protocol, profile string) ScriptOption {
	return func(f *filters) {
		if protocol != "" {
			f.protocol = protocol
		}
		if profile != "" {
			f.profile = profile
		}
	}
}

// ScriptRenderer writes one Mongo upsert statement per entry into
// <dir>/<method>_<commandName>.js.
type ScriptRenderer struct {
	writer  Writer
	dir     string
	filters filters
	logger  *slog.Logger
}

// NewScriptRenderer creates a script renderer writing below dir.
func NewScriptRenderer(writer Writer, dir string, logger *slog.Logger, opts ...ScriptOption) *ScriptRenderer {
	if dir == "" {
		dir = DefaultScriptDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptRenderer{writer: writer, dir: dir, filters: newFilters(opts), logger: logger}
}

// FileName returns the script path of a protocol relative to the writer root.
func (s *ScriptRenderer) FileName(method, commandName string) string {
	return path.Join(s.dir, fmt.Sprintf("%s_%s.js", method, commandName))
}

// Render implements Renderer.
func (s *ScriptRenderer) Render(ctx context.Context, set *resolve.Set) error {
	method, commandName, err := protocolFields(set)
	if err != nil {
		return err
	}

	var script bytes.Buffer
	for _, entry := range set.Entries() {
		stmt, err := s.filters.upsertStatement(entry)
		if err != nil {
			s.logger.Warn("Entry skipped in script",
				"collection", entry.Collection,
				"document", entry.Name,
				"error", err)
			continue
		}
		script.Write(stmt)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	written, err := s.writer.WriteFile(s.FileName(method, commandName), script.Bytes())
	if err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	s.logger.Info("Generated script file", "path", written, "entries", set.Len())
	return nil
}

// upsertStatement renders the updateOne call for one entry. The filter
// depends on the collection, so a protocol or profile reached through a
// reference is matched the same way as the root or a matched profile.
func (f filters) upsertStatement(entry resolve.Entry) ([]byte, error) {
	obj, ok := entry.Object()
	if !ok {
		return nil, fmt.Errorf("content is not a JSON object")
	}

	var filter any
	switch entry.Collection {
	case f.protocol:
		filter = map[string]any{"url": obj["url"]}
	case f.profile:
		filter = map[string]any{"resource": obj["resource"]}
	default:
		key := entry.FirstKey()
		if key == "" {
			return nil, fmt.Errorf("content has no keys")
		}
		filter = map[string]any{key: map[string]any{"$exists": true}}
	}
	return statement(entry.Collection, filter, entry.Content)
}

func statement(collection string, filter any, content json.RawMessage) ([]byte, error) {
	f, err := json.MarshalIndent(filter, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	// Built from the raw bytes so the document keeps its key order.
	set := make([]byte, 0, len(content)+10)
	set = append(set, `{"$set":`...)
	set = append(set, bytes.TrimSpace(content)...)
	set = append(set, '}')
	update, err := indentJSON(set, "  ")
	if err != nil {
		return nil, err
	}

	name, err := json.Marshal(collection)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\ndb.getCollection(%s).updateOne(\n", name)
	fmt.Fprintf(&buf, "  %s,\n", f)
	fmt.Fprintf(&buf, "  %s,\n", update)
	buf.WriteString("  { upsert: true }\n);\n")
	return buf.Bytes(), nil
}

// TokenScript renders the upsert script of a single referenced document
// into <dir>/<document>.js.
type TokenScript struct {
	store   storage.Store
	writer  Writer
	dir     string
	filters filters
	logger  *slog.Logger
}

// NewTokenScript creates a single-document script generator.
func NewTokenScript(store storage.Store, writer Writer, dir string, logger *slog.Logger, opts ...ScriptOption) *TokenScript {
	if dir == "" {
		dir = DefaultScriptDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenScript{store: store, writer: writer, dir: dir, filters: newFilters(opts), logger: logger}
}

// Generate loads the document named by token and writes its script. The
// path written is returned.
func (t *TokenScript) Generate(ctx context.Context, token string) (string, error) {
	ref, err := reference.Parse(token)
	if err != nil {
		return "", err
	}

	content, err := t.store.Load(ctx, ref.Collection, ref.Document)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", ref, err)
	}

	entry := resolve.Entry{
		Collection: ref.Collection,
		Name:       ref.Document,
		Kind:       resolve.KindReference,
		Content:    content,
	}
	if err := json.Unmarshal(content, &entry.Value); err != nil {
		return "", fmt.Errorf("decode %s: %w", ref, err)
	}

	stmt, err := t.filters.upsertStatement(entry)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", ref, err)
	}

	written, err := t.writer.WriteFile(path.Join(t.dir, ref.Document+".js"), stmt)
	if err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	t.logger.Info("Generated script file", "path", written, "reference", ref.String())
	return written, nil
}
