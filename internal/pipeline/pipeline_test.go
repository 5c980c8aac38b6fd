package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/pkg/models"
)

// recordingForwarder captures forwarded chunk IDs in order.
type recordingForwarder struct {
	mu    sync.Mutex
	ids   []string
	fail  error
	delay time.Duration
}

func (f *recordingForwarder) Forward(c *chunk.Chunk) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, c.ID)
	return nil
}

func (f *recordingForwarder) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func testChunk(t *testing.T) *chunk.Chunk {
	t.Helper()
	b := array.NewFloat64Builder(chunk.Allocator)
	defer b.Release()
	b.AppendValues([]float64{1, 2, 3}, nil)
	batch := models.ComponentBatch{
		Descriptor: models.ComponentDescriptor{Component: "Scalar"},
		Array:      b.NewArray(),
	}
	defer batch.Release()

	c, err := chunk.BuildRow("rec-pipe", models.StoreKindRecording, models.DataRow{
		EntityPath: models.NewEntityPath("series"),
		TimePoint:  make(models.TimePoint),
		Components: []models.ComponentBatch{batch},
	})
	require.NoError(t, err)
	return c
}

func TestSubmitPreservesOrder(t *testing.T) {
	fwd := &recordingForwarder{}
	p := New(Config{}, fwd, zerolog.Nop())
	defer p.Close()

	var want []string
	for i := 0; i < 50; i++ {
		c := testChunk(t)
		want = append(want, c.ID)
		require.NoError(t, p.Submit(c))
	}
	p.FlushBlocking(-1)

	assert.Equal(t, want, fwd.seen())
	assert.Equal(t, int64(50), p.Stats().Forwarded)
}

func TestControlRunsInOrder(t *testing.T) {
	fwd := &recordingForwarder{}
	p := New(Config{}, fwd, zerolog.Nop())
	defer p.Close()

	c1 := testChunk(t)
	c2 := testChunk(t)

	var sawBefore []string
	require.NoError(t, p.Submit(c1))
	require.NoError(t, p.Control(func() { sawBefore = fwd.seen() }))
	require.NoError(t, p.Submit(c2))
	p.FlushBlocking(-1)

	// The control op must observe c1 forwarded but not c2.
	assert.Equal(t, []string{c1.ID}, sawBefore)
	assert.Equal(t, []string{c1.ID, c2.ID}, fwd.seen())
}

func TestFlushTimeoutWarnsOnly(t *testing.T) {
	fwd := &recordingForwarder{delay: 200 * time.Millisecond}
	p := New(Config{}, fwd, zerolog.Nop())
	defer p.Close()

	require.NoError(t, p.Submit(testChunk(t)))

	start := time.Now()
	p.FlushBlocking(10 * time.Millisecond)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, int64(1), p.Stats().FlushTimeouts)
}

func TestForwardErrorCounted(t *testing.T) {
	fwd := &recordingForwarder{fail: errors.New("sink broke")}
	p := New(Config{}, fwd, zerolog.Nop())
	defer p.Close()

	require.NoError(t, p.Submit(testChunk(t)))
	p.FlushBlocking(-1)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(0), stats.Forwarded)
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(Config{}, &recordingForwarder{}, zerolog.Nop())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "close is idempotent")

	err := p.Submit(testChunk(t))
	require.Error(t, err)
	assert.Equal(t, errcode.StreamClosed, errcode.CodeOf(err))

	assert.Error(t, p.Control(func() {}))
	p.FlushBlocking(-1) // no-op, must not hang
}

func TestCloseDrainsQueue(t *testing.T) {
	fwd := &recordingForwarder{}
	p := New(Config{QueueSize: 128}, fwd, zerolog.Nop())

	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(testChunk(t)))
	}
	require.NoError(t, p.Close())

	assert.Len(t, fwd.seen(), 20)
}
