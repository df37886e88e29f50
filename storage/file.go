package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPattern selects the documents of a collection directory.
const DefaultPattern = "*" + Extension

// FileStore serves documents from <root>/<collection>/<document>.json.
type FileStore struct {
	root    string
	pattern string
	fsys    fs.FS
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithPattern sets the doublestar pattern used to enumerate the documents of
// a collection directory. Documents are flat names, so the pattern must
// match within the directory itself: separators and "**" are rejected by
// NewFileStore.
func WithPattern(pattern string) FileOption {
	return func(s *FileStore) {
		if pattern != "" {
			s.pattern = pattern
		}
	}
}

// NewFileStore creates a store rooted at root. The root must be an existing
// directory; it is the only place documents are read from.
func NewFileStore(root string, opts ...FileOption) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat store root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store root is not a directory: %s", absRoot)
	}

	s := &FileStore{
		root:    absRoot,
		pattern: DefaultPattern,
		fsys:    os.DirFS(absRoot),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := validatePattern(s.pattern); err != nil {
		return nil, err
	}
	return s, nil
}

func validatePattern(pattern string) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid document pattern %q", pattern)
	}
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "**") {
		return fmt.Errorf("%w: pattern %q reaches below the collection directory", ErrInvalidName, pattern)
	}
	return nil
}

// Root returns the absolute store root.
func (s *FileStore) Root() string {
	return s.root
}

// Path returns the file path of a document.
func (s *FileStore) Path(collection, document string) string {
	return filepath.Join(s.root, collection, document+Extension)
}

// Load reads one document.
func (s *FileStore) Load(ctx context.Context, collection, document string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName("collection", collection); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err := validateName("document", document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	data, err := os.ReadFile(s.Path(collection, document))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, document)
		}
		return nil, fmt.Errorf("read %s/%s: %w", collection, document, err)
	}
	return data, nil
}

// List enumerates the documents of a collection directory.
func (s *FileStore) List(ctx context.Context, collection string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName("collection", collection); err != nil {
		return nil, err
	}

	info, err := fs.Stat(s.fsys, collection)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: collection %s", ErrNotFound, collection)
		}
		return nil, fmt.Errorf("stat collection %s: %w", collection, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("collection %s is not a directory", collection)
	}

	matches, err := doublestar.Glob(s.fsys, path.Join(collection, s.pattern), doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob collection %s: %w", collection, err)
	}

	names := make([]string, 0, len(matches))
	for _, match := range matches {
		base := path.Base(match)
		// Only names Load can serve.
		if path.Ext(base) != Extension || validateName("document", base) != nil {
			continue
		}
		names = append(names, strings.TrimSuffix(base, Extension))
	}
	sort.Strings(names)
	return names, nil
}
