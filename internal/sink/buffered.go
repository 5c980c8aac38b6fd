package sink

import (
	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/chunk"
)

// Buffered is the initial sink state: chunks accumulate in memory until a
// destination is attached. The buffer is bounded; on overflow the oldest
// non-static chunk is dropped with a warning. Static chunks are never
// dropped by this policy, since they tend to be one-time setup payloads
// the rest of the recording depends on.
type Buffered struct {
	chunks []*chunk.Chunk
	bytes  int64
	limit  int64
	logger zerolog.Logger
}

// DefaultBufferLimit bounds the pre-connection backlog.
const DefaultBufferLimit = 256 * 1024 * 1024

func newBuffered(limit int64, logger zerolog.Logger) *Buffered {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &Buffered{
		limit:  limit,
		logger: logger.With().Str("sink", "buffered").Logger(),
	}
}

// Send retains the chunk into the backlog, evicting if over the limit.
func (b *Buffered) Send(c *chunk.Chunk) error {
	c.Retain()
	b.chunks = append(b.chunks, c)
	b.bytes += c.ApproxBytes()

	for b.bytes > b.limit {
		idx := -1
		for i, old := range b.chunks {
			if !old.Static() {
				idx = i
				break
			}
		}
		if idx < 0 {
			break // only static chunks remain; keep them all
		}
		victim := b.chunks[idx]
		b.chunks = append(b.chunks[:idx], b.chunks[idx+1:]...)
		b.bytes -= victim.ApproxBytes()
		victim.Release()
		b.logger.Warn().
			Str("entity", victim.Entity.String()).
			Int64("buffered_bytes", b.bytes).
			Msg("Memory buffer over limit, dropped oldest non-static chunk")
	}
	return nil
}

// Drain transfers ownership of the backlog to the caller and resets the
// buffer.
func (b *Buffered) Drain() []*chunk.Chunk {
	out := b.chunks
	b.chunks = nil
	b.bytes = 0
	return out
}

// Len returns the number of buffered chunks.
func (b *Buffered) Len() int { return len(b.chunks) }

// Close releases the backlog.
func (b *Buffered) Close() error {
	for _, c := range b.chunks {
		c.Release()
	}
	b.chunks = nil
	b.bytes = 0
	return nil
}

// Kind returns "buffered".
func (b *Buffered) Kind() string { return "buffered" }
