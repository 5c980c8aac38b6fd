package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingWrapsAround(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Add(Entry{Level: "INFO", Message: string(rune('a' + i))})
	}

	assert.Equal(t, 3, r.Len())
	got := r.Tail(10, "")
	require.Len(t, got, 3)
	// Newest first.
	assert.Equal(t, "e", got[0].Message)
	assert.Equal(t, "d", got[1].Message)
	assert.Equal(t, "c", got[2].Message)
}

func TestRingLevelFilter(t *testing.T) {
	r := NewRing(16)
	r.Add(Entry{Level: "DEBUG", Message: "noise"})
	r.Add(Entry{Level: "WARN", Message: "warned"})
	r.Add(Entry{Level: "ERROR", Message: "broke"})

	got := r.Tail(10, "warn")
	require.Len(t, got, 2)
	assert.Equal(t, "broke", got[0].Message)
	assert.Equal(t, "warned", got[1].Message)
}

func TestRingTailLimit(t *testing.T) {
	r := NewRing(16)
	for i := 0; i < 10; i++ {
		r.Add(Entry{Level: "INFO", Message: "m"})
	}
	assert.Len(t, r.Tail(4, ""), 4)
	assert.Len(t, r.Tail(0, ""), 10)
}

func TestRingWriterCapturesZerologLines(t *testing.T) {
	var out bytes.Buffer
	w := &RingWriter{ring: NewRing(16), next: &out}
	log := zerolog.New(w).With().Timestamp().Logger()

	log.Info().Str("component", "store").Msg("Eviction pass complete")
	log.Warn().Msg("Buffer over limit")

	entries := w.ring.Tail(10, "")
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0].Level)
	assert.Equal(t, "Buffer over limit", entries[0].Message)
	assert.Equal(t, "INFO", entries[1].Level)
	assert.Equal(t, "store", entries[1].Component)
	assert.NotEmpty(t, out.String(), "original output still written")
}
