package audio

import (
	"errors"
	"io/fs"
	"os"
	"sync"
)

// TempFiles tracks files created while serving one request so they can be
// removed together on every exit path.
type TempFiles struct {
	mu    sync.Mutex
	paths []string
}

// NewTempFiles creates an empty set
func NewTempFiles() *TempFiles {
	return &TempFiles{}
}

// Add registers paths for removal. Empty paths are ignored.
func (t *TempFiles) Add(paths ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range paths {
		if p != "" {
			t.paths = append(t.paths, p)
		}
	}
}

// Create makes a new empty file in dir and registers it
func (t *TempFiles) Create(dir, pattern string) (*os.File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	t.Add(f.Name())
	return f, nil
}

// Paths returns a copy of the registered paths
func (t *TempFiles) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.paths...)
}

// Cleanup removes every registered file. Files already gone are not an error;
// the first other failure is returned after all removals are attempted.
func (t *TempFiles) Cleanup() error {
	t.mu.Lock()
	paths := t.paths
	t.paths = nil
	t.mu.Unlock()

	var first error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) && first == nil {
			first = err
		}
	}
	return first
}
