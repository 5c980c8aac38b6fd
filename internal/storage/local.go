package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LocalBackend stores recordings on the local filesystem under a base
// directory.
type LocalBackend struct {
	basePath string
	logger   zerolog.Logger

	// Directory cache avoids redundant MkdirAll calls when many
	// recordings land in the same directory.
	dirCache map[string]bool
	dirMu    sync.RWMutex
}

// NewLocalBackend creates a local backend rooted at basePath, creating it
// if needed.
func NewLocalBackend(basePath string, logger zerolog.Logger) (*LocalBackend, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolving base path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o700); err != nil {
		return nil, fmt.Errorf("creating base path: %w", err)
	}
	return &LocalBackend{
		basePath: absPath,
		logger:   logger.With().Str("component", "local-storage").Logger(),
		dirCache: make(map[string]bool),
	}, nil
}

// BasePath returns the backend's root directory.
func (b *LocalBackend) BasePath() string { return b.basePath }

// validatePath rejects path traversal outside the base directory.
func (b *LocalBackend) validatePath(path string) (string, error) {
	full := filepath.Join(b.basePath, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, b.basePath+string(filepath.Separator)) && full != b.basePath {
		return "", fmt.Errorf("path %q escapes storage root", path)
	}
	return full, nil
}

func (b *LocalBackend) ensureDir(dir string) error {
	b.dirMu.RLock()
	exists := b.dirCache[dir]
	b.dirMu.RUnlock()
	if exists {
		return nil
	}
	b.dirMu.Lock()
	defer b.dirMu.Unlock()
	if !b.dirCache[dir] {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
		b.dirCache[dir] = true
	}
	return nil
}

// Write writes data atomically: temp file then rename.
func (b *LocalBackend) Write(ctx context.Context, path string, data []byte) error {
	full, err := b.validatePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := b.ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".vzl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr != nil {
			return fmt.Errorf("writing temp file: %w", writeErr)
		}
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	b.logger.Debug().Str("path", path).Int("size", len(data)).Msg("Wrote file")
	return nil
}

// WriteReader streams a reader to disk with the same atomic strategy.
func (b *LocalBackend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	full, err := b.validatePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := b.ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".vzl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, reader)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr != nil {
			return fmt.Errorf("streaming to temp file: %w", copyErr)
		}
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Read reads the object at path.
func (b *LocalBackend) Read(ctx context.Context, path string) ([]byte, error) {
	full, err := b.validatePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// ReadTo streams the object at path into writer.
func (b *LocalBackend) ReadTo(ctx context.Context, path string, writer io.Writer) error {
	full, err := b.validatePath(path)
	if err != nil {
		return err
	}
	f, err := os.Open(full)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(writer, f); err != nil {
		return fmt.Errorf("streaming %s: %w", path, err)
	}
	return nil
}

// List walks the base directory and returns relative paths with the given
// prefix.
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	err := filepath.Walk(b.basePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.basePath, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	return paths, nil
}

// Delete removes the object at path.
func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	full, err := b.validatePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// Exists reports whether an object exists at path.
func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	full, err := b.validatePath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close is a no-op for the local backend.
func (b *LocalBackend) Close() error { return nil }

// Type returns "local".
func (b *LocalBackend) Type() string { return "local" }
