// Package loader opens data files as chunk streams. Native .vzl files
// are decoded directly; anything else is offered to external loader
// executables found on PATH.
package loader

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
)

// LoaderPrefix is the executable name prefix external loaders must have
// to be discovered on PATH.
const LoaderPrefix = "vizlog-loader-"

// NativeExtension is the file extension decoded without any loader.
const NativeExtension = ".vzl"

// Handler receives each decoded message. The handler takes ownership of
// message chunks.
type Handler func(*chunk.Message) error

// Loader resolves files to chunk streams.
type Loader struct {
	logger zerolog.Logger
	// lookPath is swappable in tests.
	lookPath func(dir string) []string
}

// New creates a loader.
func New(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:   logger.With().Str("component", "loader").Logger(),
		lookPath: executablesIn,
	}
}

// LoadFile decodes path into h. Native files decode in-process; other
// extensions are offered to every discovered external loader until one
// claims the file. A loader that exits 0 without producing output is not
// interested; if no loader claims the file an error is returned.
func (l *Loader) LoadFile(path, recordingID string, h Handler) error {
	if strings.EqualFold(filepath.Ext(path), NativeExtension) {
		return l.loadNative(path, h)
	}
	return l.loadExternal(path, recordingID, h)
}

func (l *Loader) loadNative(path string, h Handler) error {
	f, err := os.Open(path)
	if err != nil {
		return errcode.Wrap(errcode.IOError, err, "open %s", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if err := chunk.ReadFileMagic(r); err != nil {
		return err
	}
	return l.decodeStream(r, h)
}

func (l *Loader) loadExternal(path, recordingID string, h Handler) error {
	loaders := l.discover()
	if len(loaders) == 0 {
		return errcode.New(errcode.NotImplemented,
			"no loader found for %s (no %s* executables on PATH)", path, LoaderPrefix)
	}

	for _, exe := range loaders {
		claimed, err := l.runLoader(exe, path, recordingID, h)
		if err != nil {
			return err
		}
		if claimed {
			return nil
		}
	}
	return errcode.New(errcode.NotImplemented, "no loader claimed %s", path)
}

// runLoader invokes one external loader. It reports whether the loader
// claimed the file (produced any output).
func (l *Loader) runLoader(exe, path, recordingID string, h Handler) (bool, error) {
	cmd := exec.Command(exe, path, "--recording-id", recordingID)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, errcode.Wrap(errcode.SpawnFailure, err, "pipe %s", exe)
	}
	if err := cmd.Start(); err != nil {
		return false, errcode.Wrap(errcode.SpawnFailure, err, "start %s", exe)
	}

	r := bufio.NewReader(stdout)
	// Peek one byte: exit 0 with an empty stream means "not interested".
	if _, err := r.Peek(1); err == io.EOF {
		if werr := cmd.Wait(); werr != nil {
			return false, errcode.Wrap(errcode.SpawnFailure, werr, "loader %s failed", exe)
		}
		l.logger.Debug().Str("loader", exe).Str("path", path).Msg("Loader not interested")
		return false, nil
	}

	magicErr := chunk.ReadFileMagic(r)
	var decodeErr error
	if magicErr == nil {
		decodeErr = l.decodeStream(r, h)
	}
	io.Copy(io.Discard, r)
	waitErr := cmd.Wait()

	switch {
	case magicErr != nil:
		return true, magicErr
	case decodeErr != nil:
		return true, decodeErr
	case waitErr != nil:
		return true, errcode.Wrap(errcode.SpawnFailure, waitErr, "loader %s failed", exe)
	}
	l.logger.Info().Str("loader", exe).Str("path", path).Msg("File loaded")
	return true, nil
}

func (l *Loader) decodeStream(r io.Reader, h Handler) error {
	dec := chunk.NewDecoder(r)
	for {
		msg, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := h(msg); err != nil {
			if msg.Chunk != nil {
				msg.Chunk.Release()
			}
			return err
		}
	}
}

// discover finds loader executables on PATH, sorted by name so the
// invocation order is deterministic.
func (l *Loader) discover() []string {
	seen := make(map[string]bool)
	var out []string
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			continue
		}
		for _, exe := range l.lookPath(dir) {
			name := filepath.Base(exe)
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, exe)
		}
	}
	sort.Strings(out)
	return out
}

func executablesIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), LoaderPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&0111 == 0 {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}
