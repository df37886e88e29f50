package resolve

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/c360studio/autobrancher/storage"
)

// memStore is an in-memory storage.Store that counts loads.
type memStore struct {
	docs  map[string]map[string]string
	loads map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		docs:  make(map[string]map[string]string),
		loads: make(map[string]int),
	}
}

func (s *memStore) put(collection, name, content string) *memStore {
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]string)
	}
	s.docs[collection][name] = content
	return s
}

func (s *memStore) Load(_ context.Context, collection, document string) ([]byte, error) {
	s.loads[collection+"/"+document]++
	content, ok := s.docs[collection][document]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, document)
	}
	return []byte(content), nil
}

func (s *memStore) List(_ context.Context, collection string) ([]string, error) {
	docs, ok := s.docs[collection]
	if !ok {
		return nil, fmt.Errorf("%w: collection %s", storage.ErrNotFound, collection)
	}
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// captureLogger returns a logger writing text records into a buffer.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func countLines(buf *bytes.Buffer, substr string) int {
	n := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func keys(set *Set) []string {
	var out []string
	for _, e := range set.Entries() {
		out = append(out, e.Path())
	}
	return out
}

type countingRecorder struct {
	resolved  map[string]int
	missing   map[string]int
	malformed map[string]int
	routing   []string
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		resolved:  make(map[string]int),
		missing:   make(map[string]int),
		malformed: make(map[string]int),
	}
}

func (r *countingRecorder) EntryResolved(kind string)     { r.resolved[kind]++ }
func (r *countingRecorder) DocumentMissing(c string)      { r.missing[c]++ }
func (r *countingRecorder) DocumentMalformed(c string)    { r.malformed[c]++ }
func (r *countingRecorder) RoutingOutcome(outcome string) { r.routing = append(r.routing, outcome) }
