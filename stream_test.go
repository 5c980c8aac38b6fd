package vizlog

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/pkg/components"
	"github.com/vizlog-io/vizlog/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func decodeRecording(t *testing.T, path string) []*chunk.Chunk {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, chunk.ReadFileMagic(f))
	dec := chunk.NewDecoder(f)

	var chunks []*chunk.Chunk
	for {
		msg, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if msg.Chunk != nil {
			chunks = append(chunks, msg.Chunk)
		}
	}
	t.Cleanup(func() {
		for _, c := range chunks {
			c.Release()
		}
	})
	return chunks
}

func TestTimeContextUnionOverrideReset(t *testing.T) {
	rec, err := New(Options{ApplicationID: "test", Enabled: boolPtr(false)})
	require.NoError(t, err)
	defer rec.Close()

	rec.SetTimeSequence("frame", 5)
	rec.SetTimeSeconds("t", 1.5)

	tp := rec.Time().Snapshot()
	require.Len(t, tp, 2, "coordinates on different timelines union")
	assert.Equal(t, int64(5), tp["frame"].Value)
	assert.Equal(t, int64(1_500_000_000), tp["t"].Value)

	rec.SetTimeSequence("frame", 6)
	tp = rec.Time().Snapshot()
	require.Len(t, tp, 2, "same timeline overrides, not appends")
	assert.Equal(t, int64(6), tp["frame"].Value)

	rec.DisableTimeline("t")
	tp = rec.Time().Snapshot()
	require.Len(t, tp, 1)

	rec.ResetTime()
	assert.True(t, rec.Time().Snapshot().IsStatic())
}

func TestScopeHasIndependentTime(t *testing.T) {
	rec, err := New(Options{Enabled: boolPtr(false)})
	require.NoError(t, err)
	defer rec.Close()

	rec.SetTimeSequence("frame", 10)

	scope := rec.Scope()
	assert.True(t, scope.Time().Snapshot().IsStatic(), "scope starts over an empty base")

	scope.SetTimeSequence("frame", 99)
	assert.Equal(t, int64(10), rec.Time().Snapshot()["frame"].Value, "parent unaffected")
}

func TestDisabledStreamAbsorbsEverything(t *testing.T) {
	rec, err := New(Options{Enabled: boolPtr(false)})
	require.NoError(t, err)

	assert.False(t, rec.Enabled())
	// Even malformed calls are absorbed without validation errors.
	assert.NoError(t, rec.Log("entity"))
	assert.NoError(t, rec.SendColumns("entity", models.TimeColumn{}))
	assert.NoError(t, rec.Connect("not even an address"))
	assert.NoError(t, rec.Save(""))
	assert.NoError(t, rec.Stdout())
	rec.FlushBlocking(-1)
	assert.NoError(t, rec.Close())
}

func TestEnvVarDisables(t *testing.T) {
	t.Setenv(EnabledEnvVar, "0")
	rec, err := New(Options{Enabled: boolPtr(true)})
	require.NoError(t, err)
	defer rec.Close()
	assert.False(t, rec.Enabled(), "VIZLOG env var wins over options")
}

func TestEnvVarEnables(t *testing.T) {
	t.Setenv(EnabledEnvVar, "true")
	rec, err := New(Options{Enabled: boolPtr(false)})
	require.NoError(t, err)
	defer rec.Close()
	assert.True(t, rec.Enabled())
}

func TestLogValidationErrors(t *testing.T) {
	rec, err := New(Options{})
	require.NoError(t, err)
	defer rec.Close()

	err = rec.Log("world/points")
	assert.Error(t, err, "zero component batches")

	err = rec.Log("world/points",
		components.Points3D([][3]float32{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}}),
		components.Colors([]uint32{1, 2}),
	)
	assert.Error(t, err, "mismatched non-splat instance counts")
}

func TestRowScenarioPointsWithStaticAnnotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.vzl")

	rec, err := New(Options{ApplicationID: "scenario"})
	require.NoError(t, err)

	rec.SetTimeSequence("frame", 0)
	require.NoError(t, rec.Log("world/points",
		components.Points3D([][3]float32{{0, 0, 0}, {1, 1, 1}}),
		components.Colors([]uint32{0xff0000ff, 0x00ff00ff}),
	))
	require.NoError(t, rec.LogStatic("world/points",
		components.AnnotationContext([]components.AnnotationInfo{{ID: 1, Label: "point", Color: 0xffffffff}}),
	))

	require.NoError(t, rec.Save(path))
	require.NoError(t, rec.Close())

	chunks := decodeRecording(t, path)
	require.Len(t, chunks, 2)

	points := chunks[0]
	assert.Equal(t, "world/points", points.Entity.String())
	require.Len(t, points.Timelines, 1)
	assert.Equal(t, "frame", points.Timelines[0].Timeline.Name)
	assert.Equal(t, []int64{0}, points.Timelines[0].Times)
	require.Len(t, points.Components, 2)
	assert.Equal(t, 2, points.Components[0].Array.Len())
	assert.Equal(t, 2, points.Components[1].Array.Len())

	anno := chunks[1]
	assert.True(t, anno.Static(), "annotation context is timeless")
	require.Len(t, anno.Components, 1)
	assert.Equal(t, components.AnnotationContextDesc, anno.Components[0].Descriptor)
}

func TestColumnScenarioPartitionedSend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "columns.vzl")

	rec, err := New(Options{ApplicationID: "columns"})
	require.NoError(t, err)

	positions := make([][3]float32, 17)
	for i := range positions {
		positions[i] = [3]float32{float32(i), 0, 0}
	}
	times := models.TimeColumn{
		Timeline: models.Timeline{Name: "t", Type: models.TimeTypeDuration},
		Times: []int64{
			models.SecondsToNanos(10),
			models.SecondsToNanos(11),
			models.SecondsToNanos(12),
			models.SecondsToNanos(13),
			models.SecondsToNanos(14),
		},
	}
	require.NoError(t, rec.SendColumns("world/points", times,
		models.ComponentColumn{Batch: components.Points3D(positions), Lengths: []uint32{2, 4, 4, 3, 4}},
	))

	require.NoError(t, rec.Save(path))
	require.NoError(t, rec.Close())

	chunks := decodeRecording(t, path)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, 5, c.NumRows)
	require.Len(t, c.Timelines, 1)
	assert.Equal(t, models.SecondsToNanos(10), c.Timelines[0].Times[0])
	assert.Equal(t, models.SecondsToNanos(14), c.Timelines[0].Times[4])

	require.Len(t, c.Components, 1)
	assert.Equal(t, []uint32{2, 4, 4, 3, 4}, c.Components[0].Lengths)
	assert.Equal(t, 17, c.Components[0].Array.Len())

	// The five reconstructed rows view 2,4,4,3,4 positions respectively.
	for i, want := range []int{2, 4, 4, 3, 4} {
		slice := c.Components[0].RowSlice(i)
		assert.Equal(t, want, slice.Len(), "row %d", i)
		slice.Release()
	}
}

func TestSendColumnsPartitionMismatchFails(t *testing.T) {
	rec, err := New(Options{})
	require.NoError(t, err)
	defer rec.Close()

	times := models.TimeColumn{
		Timeline: models.Timeline{Name: "t", Type: models.TimeTypeSequence},
		Times:    []int64{0, 1, 2},
	}
	err = rec.SendColumns("points", times,
		models.ComponentColumn{Batch: components.Scalars([]float64{1, 2, 3, 4}), Lengths: []uint32{2, 2}},
	)
	assert.Error(t, err, "partition count must match the time column length")
}

func TestFlushAndCloseIdempotent(t *testing.T) {
	rec, err := New(Options{})
	require.NoError(t, err)

	require.NoError(t, rec.Log("s", components.Scalar(1)))
	rec.FlushBlocking(time.Second)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	// Post-Close calls are no-ops, not errors.
	assert.NoError(t, rec.Log("s", components.Scalar(2)))
	rec.FlushBlocking(time.Second)
}
