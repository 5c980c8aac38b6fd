package storage

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// RetryBackend wraps a backend with bounded exponential-backoff retries on
// writes. Reads and metadata operations pass through: the save path is the
// only place where a transient object-store failure would otherwise lose a
// recording.
type RetryBackend struct {
	backend Backend
	logger  zerolog.Logger

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryBackend wraps backend with default retry settings.
func NewRetryBackend(backend Backend, logger zerolog.Logger) *RetryBackend {
	return &RetryBackend{
		backend:    backend,
		logger:     logger.With().Str("component", "retry-storage").Logger(),
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
}

func (r *RetryBackend) withRetry(ctx context.Context, path string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := r.baseDelay * time.Duration(1<<uint(attempt))
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
		r.logger.Warn().Err(lastErr).Str("path", path).
			Int("attempt", attempt+1).Int("max_retries", r.maxRetries).
			Dur("retry_delay", delay).Msg("Storage write failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (r *RetryBackend) Write(ctx context.Context, path string, data []byte) error {
	return r.withRetry(ctx, path, func() error {
		return r.backend.Write(ctx, path, data)
	})
}

// WriteReader does not retry: the reader may not be rewindable.
func (r *RetryBackend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	return r.backend.WriteReader(ctx, path, reader, size)
}

func (r *RetryBackend) Read(ctx context.Context, path string) ([]byte, error) {
	return r.backend.Read(ctx, path)
}

func (r *RetryBackend) ReadTo(ctx context.Context, path string, writer io.Writer) error {
	return r.backend.ReadTo(ctx, path, writer)
}

func (r *RetryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	return r.backend.List(ctx, prefix)
}

func (r *RetryBackend) Delete(ctx context.Context, path string) error {
	return r.backend.Delete(ctx, path)
}

func (r *RetryBackend) Exists(ctx context.Context, path string) (bool, error) {
	return r.backend.Exists(ctx, path)
}

func (r *RetryBackend) Close() error { return r.backend.Close() }

func (r *RetryBackend) Type() string { return r.backend.Type() }
