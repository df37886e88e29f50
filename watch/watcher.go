// Package watch re-renders protocol documents when they change on disk.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/autobrancher/storage"
)

// DefaultDebounce is how long changes are collected before they are handled.
const DefaultDebounce = 200 * time.Millisecond

// Handler is called with the document name of a created or modified
// protocol.
type Handler func(ctx context.Context, document string)

// Config configures a Watcher.
type Config struct {
	// Dir is the protocol collection directory.
	Dir string

	// Debounce is how long to wait for more changes before handling them.
	Debounce time.Duration

	Logger *slog.Logger
}

// Watcher watches one collection directory. Writes that leave a document's
// content unchanged are ignored.
type Watcher struct {
	config  Config
	handler Handler
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op // path → most recent operation

	hashMu sync.RWMutex
	hashes map[string]string // document → content hash
}

// NewWatcher creates a watcher that calls handler for changed documents.
func NewWatcher(config Config, handler Handler) (*Watcher, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	info, err := os.Stat(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("stat watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", config.Dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	return &Watcher{
		config:  config,
		handler: handler,
		watcher: fsw,
		logger:  config.Logger,
		pending: make(map[string]fsnotify.Op),
		hashes:  make(map[string]string),
	}, nil
}

// Run records the current documents and then handles changes until ctx is
// done. The underlying watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.seed(); err != nil {
		return err
	}
	if err := w.watcher.Add(w.config.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.config.Dir, err)
	}

	w.logger.Info("Watching protocols",
		"dir", w.config.Dir,
		"debounce", w.config.Debounce)

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// seed hashes the documents already present so that only later edits fire.
func (w *Watcher) seed() error {
	matches, err := filepath.Glob(filepath.Join(w.config.Dir, "*"+storage.Extension))
	if err != nil {
		return err
	}
	for _, path := range matches {
		hash, err := hashFile(path)
		if err != nil {
			w.logger.Warn("Failed to hash protocol", "path", path, "error", err)
			continue
		}
		w.setHash(documentName(path), hash)
	}
	return nil
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, storage.Extension) {
		return
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] = event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("Protocol change detected",
		"path", event.Name,
		"op", event.Op.String())
}

// flushPending handles accumulated changes in name order.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	paths := make([]string, 0, len(toProcess))
	for path := range toProcess {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		name := documentName(path)
		op := toProcess[path]

		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				w.forget(name)
				continue
			}
		}

		hash, err := hashFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				w.forget(name)
				continue
			}
			w.logger.Warn("Failed to hash protocol", "path", path, "error", err)
			continue
		}

		if old, ok := w.getHash(name); ok && old == hash {
			continue
		}
		w.setHash(name, hash)

		w.logger.Info("Protocol changed", "document", name)
		w.handler(ctx, name)
	}
}

func (w *Watcher) forget(name string) {
	w.hashMu.Lock()
	delete(w.hashes, name)
	w.hashMu.Unlock()
	w.logger.Info("Protocol removed", "document", name)
}

func (w *Watcher) setHash(name, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[name] = hash
}

func (w *Watcher) getHash(name string) (string, bool) {
	w.hashMu.RLock()
	defer w.hashMu.RUnlock()
	hash, ok := w.hashes[name]
	return hash, ok
}

func documentName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), storage.Extension)
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
