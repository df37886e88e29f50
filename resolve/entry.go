package resolve

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"

	"github.com/c360studio/autobrancher/reference"
	"github.com/c360studio/autobrancher/storage"
)

// Kind records how an entry entered the resolution set.
type Kind string

const (
	KindProtocol  Kind = "protocol"
	KindReference Kind = "reference"
	KindMapping   Kind = "mapping"
	KindRouting   Kind = "routing"
	KindProfile   Kind = "profile"
)

// Entry is one resolved document.
type Entry struct {
	Collection string
	Name       string
	Kind       Kind

	// Content is the document exactly as loaded; key order is preserved.
	Content json.RawMessage

	// Value is the decoded content, nil when Content is not valid JSON.
	Value any
}

// NewEntry decodes content into an entry. A decode failure still yields an
// entry carrying the raw content; the error is returned for reporting.
func NewEntry(collection, name string, kind Kind, content []byte) (Entry, error) {
	e := Entry{
		Collection: collection,
		Name:       name,
		Kind:       kind,
		Content:    append(json.RawMessage(nil), content...),
	}
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return e, fmt.Errorf("decode %s: %w", e.Key(), err)
	}
	e.Value = v
	return e, nil
}

// Key identifies the entry as "collection/name".
func (e Entry) Key() string {
	return entryKey(e.Collection, e.Name)
}

func entryKey(collection, name string) string {
	return collection + "/" + name
}

// FileName returns the on-disk name of the entry.
func (e Entry) FileName() string {
	return e.Name + storage.Extension
}

// Path returns the slash-separated location of the entry inside a tree.
func (e Entry) Path() string {
	return path.Join(e.Collection, e.FileName())
}

// Object returns the decoded content when it is a JSON object.
func (e Entry) Object() (map[string]any, bool) {
	obj, ok := e.Value.(map[string]any)
	return obj, ok
}

// Field returns a top-level string field of the content.
func (e Entry) Field(name string) string {
	obj, _ := e.Object()
	return stringField(obj, name)
}

// FirstKey returns the first top-level key of the content in document order.
func (e Entry) FirstKey() string {
	return firstKey(e.Content)
}

// refs lists the reference tokens of the entry's content. When the content
// did not decode, the raw text is scanned instead.
func (e Entry) refs(mode reference.Mode) []reference.Ref {
	if e.Value != nil {
		return reference.ExtractValue(e.Value, mode)
	}
	return reference.Extract(string(e.Content), mode)
}

func firstKey(raw []byte) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return ""
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ""
	}
	tok, err = dec.Token()
	if err != nil {
		return ""
	}
	key, _ := tok.(string)
	return key
}

func stringField(obj map[string]any, name string) string {
	switch v := obj[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Miss records a reference that could not be loaded.
type Miss struct {
	Collection string
	Document   string
	Err        error
}

// Set is the insertion-ordered, duplicate-free result of one resolution run.
type Set struct {
	entries []Entry
	index   map[string]int
	misses  []Miss
}

func newSet() *Set {
	return &Set{index: make(map[string]int)}
}

// NewSet builds a set from entries in order, dropping duplicates. The first
// entry should be the protocol.
func NewSet(entries ...Entry) *Set {
	s := newSet()
	for _, e := range entries {
		s.add(e)
	}
	return s
}

// add appends e unless an entry with the same collection and name exists.
func (s *Set) add(e Entry) bool {
	key := e.Key()
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, e)
	return true
}

// Len returns the number of entries.
func (s *Set) Len() int {
	return len(s.entries)
}

// Entries returns the entries in insertion order.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Protocol returns the root protocol entry.
func (s *Set) Protocol() (Entry, bool) {
	if len(s.entries) == 0 || s.entries[0].Kind != KindProtocol {
		return Entry{}, false
	}
	return s.entries[0], true
}

// Contains reports whether collection/name is already resolved.
func (s *Set) Contains(collection, name string) bool {
	_, ok := s.index[entryKey(collection, name)]
	return ok
}

// Get returns the entry for collection/name.
func (s *Set) Get(collection, name string) (Entry, bool) {
	i, ok := s.index[entryKey(collection, name)]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// firstIn returns the first entry of a collection.
func (s *Set) firstIn(collection string) (Entry, bool) {
	for _, e := range s.entries {
		if e.Collection == collection {
			return e, true
		}
	}
	return Entry{}, false
}

// Misses returns the references that could not be loaded, in the order they
// were encountered.
func (s *Set) Misses() []Miss {
	out := make([]Miss, len(s.misses))
	copy(out, s.misses)
	return out
}

// Documents converts the set into storage documents.
func (s *Set) Documents() []storage.Document {
	docs := make([]storage.Document, 0, len(s.entries))
	for _, e := range s.entries {
		docs = append(docs, storage.Document{
			Collection: e.Collection,
			Name:       e.Name,
			Content:    e.Content,
		})
	}
	return docs
}
