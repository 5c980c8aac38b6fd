package sink

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/pkg/models"
)

func scalarChunk(t *testing.T, entity string, values []float64, static bool) *chunk.Chunk {
	t.Helper()
	b := array.NewFloat64Builder(chunk.Allocator)
	defer b.Release()
	b.AppendValues(values, nil)
	batch := models.ComponentBatch{
		Descriptor: models.ComponentDescriptor{Component: "Scalar"},
		Array:      b.NewArray(),
	}
	defer batch.Release()

	tp := make(models.TimePoint)
	if !static {
		tp.Set(models.TimeCell{Timeline: models.Timeline{Name: "frame", Type: models.TimeTypeSequence}, Value: 1})
	}
	c, err := chunk.BuildRow("rec-sink", models.StoreKindRecording, models.DataRow{
		EntityPath: models.NewEntityPath(entity),
		TimePoint:  tp,
		Components: []models.ComponentBatch{batch},
	})
	require.NoError(t, err)
	return c
}

// collectSink records sent chunk IDs.
type collectSink struct {
	ids    []string
	closed bool
}

func (s *collectSink) Send(c *chunk.Chunk) error { s.ids = append(s.ids, c.ID); return nil }
func (s *collectSink) Close() error              { s.closed = true; return nil }
func (s *collectSink) Kind() string              { return "collect" }

func TestManagerStartsBuffered(t *testing.T) {
	m := NewManager(0, zerolog.Nop())
	defer m.Close()
	assert.Equal(t, "buffered", m.ActiveKind())
}

func TestSwitchDrainsBufferedBacklog(t *testing.T) {
	m := NewManager(0, zerolog.Nop())

	first := scalarChunk(t, "a", []float64{1}, false)
	second := scalarChunk(t, "b", []float64{2}, false)
	defer first.Release()
	defer second.Release()

	require.NoError(t, m.Forward(first))
	require.NoError(t, m.Forward(second))

	next := &collectSink{}
	m.Switch(next)

	assert.Equal(t, []string{first.ID, second.ID}, next.ids)
	assert.Equal(t, "collect", m.ActiveKind())

	// Chunks forwarded after the switch land in the new sink directly.
	third := scalarChunk(t, "c", []float64{3}, false)
	defer third.Release()
	require.NoError(t, m.Forward(third))
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, next.ids)

	m.Close()
	assert.True(t, next.closed)
}

func TestSwitchFromNonBufferedClosesPredecessor(t *testing.T) {
	m := NewManager(0, zerolog.Nop())
	firstSink := &collectSink{}
	m.Switch(firstSink)

	c := scalarChunk(t, "a", []float64{1}, false)
	defer c.Release()
	require.NoError(t, m.Forward(c))

	secondSink := &collectSink{}
	m.Switch(secondSink)

	assert.True(t, firstSink.closed, "non-buffered predecessor is closed")
	assert.Empty(t, secondSink.ids, "already-sent data is not duplicated")
	m.Close()
}

func TestBufferedEvictsOldestNonStatic(t *testing.T) {
	// A limit small enough that the second temporal chunk evicts the
	// first, while the static chunk survives throughout.
	static := scalarChunk(t, "anno", []float64{9}, true)
	first := scalarChunk(t, "a", make([]float64, 100), false)
	second := scalarChunk(t, "b", make([]float64, 100), false)
	defer static.Release()
	defer first.Release()
	defer second.Release()

	limit := static.ApproxBytes() + first.ApproxBytes() + second.ApproxBytes()/2
	b := newBuffered(limit, zerolog.Nop())

	require.NoError(t, b.Send(static))
	require.NoError(t, b.Send(first))
	require.NoError(t, b.Send(second))

	backlog := b.Drain()
	var ids []string
	for _, c := range backlog {
		ids = append(ids, c.ID)
		c.Release()
	}
	assert.Equal(t, []string{static.ID, second.ID}, ids)
}

func TestBufferedKeepsStaticUnderPressure(t *testing.T) {
	static := scalarChunk(t, "anno", make([]float64, 100), true)
	defer static.Release()

	b := newBuffered(1, zerolog.Nop()) // below even one chunk
	require.NoError(t, b.Send(static))

	assert.Equal(t, 1, b.Len(), "static chunks are never dropped")
	require.NoError(t, b.Close())
}

func TestFileSinkWritesDecodableStream(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.vzl")

	f, err := NewFile(path, chunk.CodecZstd, zerolog.Nop())
	require.NoError(t, err)

	c := scalarChunk(t, "series", []float64{1, 2, 3}, false)
	defer c.Release()
	require.NoError(t, f.Send(c))
	require.NoError(t, f.Close())

	raw, err := os.Open(path)
	require.NoError(t, err)
	defer raw.Close()

	require.NoError(t, chunk.ReadFileMagic(raw))
	dec := chunk.NewDecoder(raw)

	// First frame registers the scalar component type, second carries data.
	msg, err := dec.Next()
	require.NoError(t, err)
	require.NotEmpty(t, msg.Register)

	msg, err = dec.Next()
	require.NoError(t, err)
	require.NotNil(t, msg.Chunk)
	assert.Equal(t, c.ID, msg.Chunk.ID)
	msg.Chunk.Release()

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFileSinkAppendsWithoutSecondMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.vzl")

	for i := 0; i < 2; i++ {
		f, err := NewFile(path, chunk.CodecNone, zerolog.Nop())
		require.NoError(t, err)
		c := scalarChunk(t, "series", []float64{float64(i)}, false)
		require.NoError(t, f.Send(c))
		c.Release()
		require.NoError(t, f.Close())
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(raw, []byte(chunk.FileMagic)))
}

func TestStdoutSinkStream(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewStdout(&buf, zerolog.Nop())
	require.NoError(t, err)

	c := scalarChunk(t, "series", []float64{4, 5}, false)
	defer c.Release()
	require.NoError(t, s.Send(c))
	require.NoError(t, s.Close())

	require.NoError(t, chunk.ReadFileMagic(&buf))
	dec := chunk.NewDecoder(&buf)

	msg, err := dec.Next()
	require.NoError(t, err)
	require.NotEmpty(t, msg.Register)

	msg, err = dec.Next()
	require.NoError(t, err)
	require.NotNil(t, msg.Chunk)
	msg.Chunk.Release()
}

func TestGRPCRequiresAddress(t *testing.T) {
	_, err := NewGRPC("", "rec", zerolog.Nop())
	assert.Error(t, err)
}

func TestSchemaSentOncePerSink(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewStdout(&buf, zerolog.Nop())
	require.NoError(t, err)

	c1 := scalarChunk(t, "a", []float64{1}, false)
	c2 := scalarChunk(t, "b", []float64{2}, false)
	defer c1.Release()
	defer c2.Release()
	require.NoError(t, s.Send(c1))
	require.NoError(t, s.Send(c2))
	require.NoError(t, s.Close())

	require.NoError(t, chunk.ReadFileMagic(&buf))
	dec := chunk.NewDecoder(&buf)

	registers, datas := 0, 0
	for {
		msg, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if msg.Chunk != nil {
			datas++
			msg.Chunk.Release()
		} else {
			registers++
		}
	}
	assert.Equal(t, 1, registers, "schema goes over the wire once per sink")
	assert.Equal(t, 2, datas)
}
