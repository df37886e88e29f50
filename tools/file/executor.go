// Package file writes rendered output inside a fixed root directory.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Writer writes files below a root directory. Paths that resolve outside
// the root are rejected.
type Writer struct {
	root string
}

// NewWriter creates a writer confined to root.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Root returns the directory writes are confined to.
func (w *Writer) Root() string {
	return w.root
}

// WriteFile writes data to path, creating parent directories as needed,
// and returns the absolute path written.
func (w *Writer) WriteFile(path string, data []byte) (string, error) {
	fullPath, err := w.validatePath(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fullPath, nil
}

// ReadFile reads a file below the root.
func (w *Writer) ReadFile(path string) ([]byte, error) {
	fullPath, err := w.validatePath(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(fullPath)
}

// validatePath validates and resolves a path, ensuring it's within the root
func (w *Writer) validatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	var fullPath string
	if filepath.IsAbs(path) {
		fullPath = filepath.Clean(path)
	} else {
		fullPath = filepath.Clean(filepath.Join(w.root, path))
	}

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	absRoot, err := filepath.Abs(w.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}

	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied: %s is outside %s", path, absRoot)
	}
	return absPath, nil
}
