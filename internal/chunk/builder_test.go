package chunk

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/pkg/models"
)

func f32Batch(t *testing.T, component string, values []float32) models.ComponentBatch {
	t.Helper()
	b := array.NewFloat32Builder(Allocator)
	defer b.Release()
	b.AppendValues(values, nil)
	return models.ComponentBatch{
		Descriptor: models.ComponentDescriptor{Archetype: "Points3D", Field: component, Component: component},
		Array:      b.NewArray(),
	}
}

func seqPoint(name string, v int64) models.TimePoint {
	tp := make(models.TimePoint)
	tp.Set(models.TimeCell{Timeline: models.Timeline{Name: name, Type: models.TimeTypeSequence}, Value: v})
	return tp
}

func TestBuildRowBasic(t *testing.T) {
	positions := f32Batch(t, "positions", []float32{1, 2, 3, 4})
	defer positions.Release()

	c, err := BuildRow("rec-1", models.StoreKindRecording, models.DataRow{
		EntityPath: models.NewEntityPath("world/points"),
		TimePoint:  seqPoint("frame", 0),
		Components: []models.ComponentBatch{positions},
	})
	require.NoError(t, err)
	defer c.Release()

	assert.Equal(t, 1, c.NumRows)
	assert.False(t, c.Static())
	require.Len(t, c.Timelines, 1)
	assert.Equal(t, []int64{0}, c.Timelines[0].Times)
	require.Len(t, c.Components, 1)
	assert.Equal(t, []uint32{4}, c.Components[0].Lengths)
	assert.NotZero(t, c.Components[0].Handle)
}

func TestBuildRowStatic(t *testing.T) {
	labels := f32Batch(t, "radii", []float32{0.5})
	defer labels.Release()

	c, err := BuildRow("rec-1", models.StoreKindRecording, models.DataRow{
		EntityPath: models.NewEntityPath("world"),
		TimePoint:  make(models.TimePoint),
		Components: []models.ComponentBatch{labels},
	})
	require.NoError(t, err)
	defer c.Release()

	assert.True(t, c.Static())
	assert.Empty(t, c.Timelines)
}

func TestBuildRowSplatBroadcast(t *testing.T) {
	positions := f32Batch(t, "positions", []float32{1, 2, 3, 4, 5})
	radius := f32Batch(t, "radii", []float32{0.1}) // splat
	defer positions.Release()
	defer radius.Release()

	c, err := BuildRow("rec-1", models.StoreKindRecording, models.DataRow{
		EntityPath: models.NewEntityPath("world/points"),
		TimePoint:  seqPoint("frame", 3),
		Components: []models.ComponentBatch{positions, radius},
	})
	require.NoError(t, err)
	defer c.Release()

	require.Len(t, c.Components, 2)
	assert.Equal(t, []uint32{5}, c.Components[0].Lengths)
	assert.Equal(t, []uint32{1}, c.Components[1].Lengths)
}

func TestBuildRowMismatchedCounts(t *testing.T) {
	positions := f32Batch(t, "positions", []float32{1, 2, 3})
	colors := f32Batch(t, "colors", []float32{1, 2})
	defer positions.Release()
	defer colors.Release()

	_, err := BuildRow("rec-1", models.StoreKindRecording, models.DataRow{
		EntityPath: models.NewEntityPath("world/points"),
		TimePoint:  seqPoint("frame", 0),
		Components: []models.ComponentBatch{positions, colors},
	})
	require.Error(t, err)
	assert.Equal(t, errcode.ChunkValidation, errcode.CodeOf(err))
}

func TestBuildRowNoComponents(t *testing.T) {
	_, err := BuildRow("rec-1", models.StoreKindRecording, models.DataRow{
		EntityPath: models.NewEntityPath("world"),
		TimePoint:  seqPoint("frame", 0),
	})
	require.Error(t, err)
	assert.Equal(t, errcode.InvalidArgument, errcode.CodeOf(err))
}

func TestBuildColumnsPartitioned(t *testing.T) {
	// 5 rows with per-row point counts 2,4,4,3,4 = 17 instances.
	instances := make([]float32, 17)
	for i := range instances {
		instances[i] = float32(i)
	}
	batch := f32Batch(t, "positions", instances)
	defer batch.Release()

	timeCol := models.TimeColumn{
		Timeline: models.Timeline{Name: "t", Type: models.TimeTypeDuration},
		Times:    []int64{10e9, 11e9, 12e9, 13e9, 14e9},
	}
	c, err := BuildColumns("rec-1", models.StoreKindRecording, models.NewEntityPath("points"),
		timeCol, []models.ComponentColumn{{Batch: batch, Lengths: []uint32{2, 4, 4, 3, 4}}})
	require.NoError(t, err)
	defer c.Release()

	assert.Equal(t, 5, c.NumRows)
	require.Len(t, c.Components, 1)

	// Row 3 must view instances [10, 13).
	row3 := c.Components[0].RowSlice(3)
	defer row3.Release()
	f32s := row3.(*array.Float32)
	require.Equal(t, 3, f32s.Len())
	assert.Equal(t, float32(10), f32s.Value(0))
	assert.Equal(t, float32(12), f32s.Value(2))
}

func TestBuildColumnsPartitionCountMismatch(t *testing.T) {
	batch := f32Batch(t, "positions", []float32{1, 2, 3, 4})
	defer batch.Release()

	timeCol := models.TimeColumn{
		Timeline: models.Timeline{Name: "t", Type: models.TimeTypeSequence},
		Times:    []int64{0, 1, 2},
	}
	// 2 partitions declared for 3 time rows.
	_, err := BuildColumns("rec-1", models.StoreKindRecording, models.NewEntityPath("points"),
		timeCol, []models.ComponentColumn{{Batch: batch, Lengths: []uint32{2, 2}}})
	require.Error(t, err)
	assert.Equal(t, errcode.ChunkValidation, errcode.CodeOf(err))
}

func TestBuildColumnsPartitionSumMismatch(t *testing.T) {
	batch := f32Batch(t, "positions", []float32{1, 2, 3, 4})
	defer batch.Release()

	timeCol := models.TimeColumn{
		Timeline: models.Timeline{Name: "t", Type: models.TimeTypeSequence},
		Times:    []int64{0, 1},
	}
	// Partitions sum to 5, array has 4 instances.
	_, err := BuildColumns("rec-1", models.StoreKindRecording, models.NewEntityPath("points"),
		timeCol, []models.ComponentColumn{{Batch: batch, Lengths: []uint32{2, 3}}})
	require.Error(t, err)
	assert.Equal(t, errcode.ChunkValidation, errcode.CodeOf(err))
}

func TestBuildColumnsEmptyTimeColumn(t *testing.T) {
	batch := f32Batch(t, "positions", []float32{1})
	defer batch.Release()

	_, err := BuildColumns("rec-1", models.StoreKindRecording, models.NewEntityPath("points"),
		models.TimeColumn{Timeline: models.Timeline{Name: "t"}}, []models.ComponentColumn{{Batch: batch, Lengths: nil}})
	require.Error(t, err)
	assert.Equal(t, errcode.InvalidArgument, errcode.CodeOf(err))
}

func TestChunkApproxBytes(t *testing.T) {
	batch := f32Batch(t, "positions", []float32{1, 2, 3, 4})
	defer batch.Release()

	c, err := BuildRow("rec-1", models.StoreKindRecording, models.DataRow{
		EntityPath: models.NewEntityPath("world"),
		TimePoint:  seqPoint("frame", 0),
		Components: []models.ComponentBatch{batch},
	})
	require.NoError(t, err)
	defer c.Release()

	assert.Greater(t, c.ApproxBytes(), int64(0))
}
