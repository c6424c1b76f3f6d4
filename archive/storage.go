package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage is where the files of an archive live.
type Storage interface {
	// Create opens name for writing, replacing any existing file.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns the names of the files in the archive.
	List(ctx context.Context) ([]string, error)
	// Remove deletes name. A missing file is not an error.
	Remove(ctx context.Context, name string) error
}

// Aborter is implemented by writers that can discard what was written so
// far instead of committing it.
type Aborter interface {
	CloseWithError(err error) error
}

// LocalDir is a Storage backed by a directory on the local filesystem.
type LocalDir string

func (d LocalDir) Create(_ context.Context, name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(string(d), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory %q: %w", string(d), err)
	}

	path := filepath.Join(string(d), name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %q: %w", path, err)
	}
	return &localFile{File: f}, nil
}

func (d LocalDir) Open(_ context.Context, name string) (io.ReadCloser, error) {
	path := filepath.Join(string(d), name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	return f, nil
}

func (d LocalDir) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(string(d))
	if err != nil {
		return nil, fmt.Errorf("reading archive directory %q: %w", string(d), err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (d LocalDir) Remove(_ context.Context, name string) error {
	path := filepath.Join(string(d), name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", path, err)
	}
	return nil
}

// localFile removes itself when aborted so that a failed run leaves no
// half-written file behind.
type localFile struct {
	*os.File
}

func (f *localFile) CloseWithError(error) error {
	closeErr := f.File.Close()
	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing partial file %q: %w", f.Name(), err)
	}
	return closeErr
}

var _ Storage = LocalDir("")
