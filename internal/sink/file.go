package sink

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/internal/storage"
)

// File appends wire frames to a .vzl recording. Local save targets are
// written incrementally (append-only); object-store targets accumulate in
// memory and upload once on Close, since S3 objects cannot be appended.
type File struct {
	url    string
	codec  string
	sent   handleSet
	logger zerolog.Logger

	// exactly one of file / upload is set
	file   *os.File
	upload *objectUpload
}

type objectUpload struct {
	backend storage.Backend
	key     string
	buf     bytes.Buffer
}

// NewFile opens a save target. URLs starting with s3:// go to object
// storage; everything else is a local path. The path's directory must
// already exist for local targets.
func NewFile(url, codec string, logger zerolog.Logger) (*File, error) {
	log := logger.With().Str("sink", "file").Str("url", url).Logger()

	f := &File{
		url:    url,
		codec:  codec,
		sent:   make(handleSet),
		logger: log,
	}

	if isObjectURL(url) {
		backend, key, err := storage.ResolveURL(url, logger)
		if err != nil {
			return nil, errcode.Wrap(errcode.SaveFailure, err, "opening save target %q", url)
		}
		f.upload = &objectUpload{
			backend: storage.NewRetryBackend(backend, logger),
			key:     key,
		}
		if err := chunk.WriteFileMagic(&f.upload.buf); err != nil {
			return nil, errcode.Wrap(errcode.SaveFailure, err, "writing file magic")
		}
		return f, nil
	}

	if dir := filepath.Dir(url); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errcode.Wrap(errcode.SaveFailure, err, "creating directory for %q", url)
		}
	}
	file, err := os.OpenFile(url, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errcode.Wrap(errcode.SaveFailure, err, "opening save target %q", url)
	}
	// Only a fresh file gets the magic; appending to an existing
	// recording continues its frame stream.
	if info, err := file.Stat(); err == nil && info.Size() == 0 {
		if err := chunk.WriteFileMagic(file); err != nil {
			file.Close()
			return nil, errcode.Wrap(errcode.SaveFailure, err, "writing file magic")
		}
	}
	f.file = file
	return f, nil
}

func isObjectURL(url string) bool {
	return len(url) > 5 && url[:5] == "s3://"
}

func (f *File) writer() io.Writer {
	if f.upload != nil {
		return &f.upload.buf
	}
	return f.file
}

// Send appends the chunk's frame, preceded by register frames for any
// component type schemas this file has not seen yet.
func (f *File) Send(c *chunk.Chunk) error {
	w := f.writer()
	if entries := f.sent.missing(c); len(entries) > 0 {
		if err := chunk.EncodeRegister(w, entries); err != nil {
			return err
		}
	}
	return chunk.EncodeChunk(w, c, f.codec)
}

// Close finishes the recording: local files sync and close, object
// targets upload their accumulated bytes.
func (f *File) Close() error {
	if f.upload != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		data := f.upload.buf.Bytes()
		if err := f.upload.backend.Write(ctx, f.upload.key, data); err != nil {
			return errcode.Wrap(errcode.SaveFailure, err, "uploading recording to %q", f.url)
		}
		f.logger.Info().Int("size", len(data)).Msg("Recording uploaded")
		return f.upload.backend.Close()
	}

	if err := f.file.Sync(); err != nil {
		f.file.Close()
		return errcode.Wrap(errcode.SaveFailure, err, "syncing recording %q", f.url)
	}
	if err := f.file.Close(); err != nil {
		return errcode.Wrap(errcode.SaveFailure, err, "closing recording %q", f.url)
	}
	f.logger.Info().Msg("Recording saved")
	return nil
}

// Kind returns "file".
func (f *File) Kind() string { return "file" }
