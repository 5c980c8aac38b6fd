package chunk

import (
	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/internal/registry"
	"github.com/vizlog-io/vizlog/pkg/models"
)

// BuildRow validates a row-oriented log call and produces a single-row
// chunk. All non-splat component batches must share the same instance
// count; a single-instance batch is a splat, broadcast across the others
// by the store. Component types are registered in the global registry as a
// side effect so sinks can transmit each schema once.
func BuildRow(recordingID string, kind models.StoreKind, row models.DataRow) (*Chunk, error) {
	if len(row.Components) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, "log call with zero component batches")
	}

	// Determine the row's instance count from the non-splat batches.
	count := -1
	for _, b := range row.Components {
		if b.Array == nil {
			return nil, errcode.New(errcode.InvalidArgument,
				"component %q: nil array", b.Descriptor.Key())
		}
		n := b.NumInstances()
		if n <= 1 {
			continue // splats and empty batches broadcast or pass through
		}
		if count != -1 && n != count {
			return nil, errcode.New(errcode.ChunkValidation,
				"mismatched instance counts: component %q has %d instances, expected %d",
				b.Descriptor.Key(), n, count)
		}
		count = n
	}

	c := &Chunk{
		ID:          newChunkID(),
		RecordingID: recordingID,
		StoreKind:   kind,
		Entity:      row.EntityPath,
		NumRows:     1,
	}

	for _, cell := range row.TimePoint.Cells() {
		c.Timelines = append(c.Timelines, TimelineColumn{
			Timeline: cell.Timeline,
			Times:    []int64{cell.Value},
		})
	}

	for _, b := range row.Components {
		handle, err := registry.Global().Register(b.Descriptor, b.Array.DataType())
		if err != nil {
			return nil, err
		}
		b.Array.Retain()
		c.Components = append(c.Components, ComponentSlab{
			Descriptor: b.Descriptor,
			Handle:     handle,
			Array:      b.Array,
			Lengths:    []uint32{uint32(b.NumInstances())},
		})
	}

	return c, nil
}

// BuildColumns validates a column-oriented send and produces a multi-row
// chunk. Each component column must declare exactly one partition per time
// column entry, and its partition lengths must sum to the component
// array's total instance count. The thread-local time context is never
// consulted here: column sends carry explicit time only, and no
// bookkeeping timelines are injected.
func BuildColumns(recordingID string, kind models.StoreKind, entity models.EntityPath,
	timeCol models.TimeColumn, columns []models.ComponentColumn) (*Chunk, error) {

	numRows := timeCol.Len()
	if numRows == 0 {
		return nil, errcode.New(errcode.InvalidArgument, "empty time column %q", timeCol.Timeline.Name)
	}
	if len(columns) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, "send with zero component columns")
	}

	c := &Chunk{
		ID:          newChunkID(),
		RecordingID: recordingID,
		StoreKind:   kind,
		Entity:      entity,
		NumRows:     numRows,
		Timelines: []TimelineColumn{{
			Timeline: timeCol.Timeline,
			Times:    append([]int64(nil), timeCol.Times...),
		}},
	}

	for _, col := range columns {
		if col.Batch.Array == nil {
			return nil, errcode.New(errcode.InvalidArgument,
				"component column %q: nil array", col.Batch.Descriptor.Key())
		}
		if len(col.Lengths) != numRows {
			return nil, errcode.New(errcode.ChunkValidation,
				"component column %q declares %d partitions, time column %q has %d rows",
				col.Batch.Descriptor.Key(), len(col.Lengths), timeCol.Timeline.Name, numRows)
		}
		if total := col.TotalInstances(); total != uint64(col.Batch.NumInstances()) {
			return nil, errcode.New(errcode.ChunkValidation,
				"component column %q: partition lengths sum to %d, array has %d instances",
				col.Batch.Descriptor.Key(), total, col.Batch.NumInstances())
		}

		handle, err := registry.Global().Register(col.Batch.Descriptor, col.Batch.Array.DataType())
		if err != nil {
			return nil, err
		}
		col.Batch.Array.Retain()
		c.Components = append(c.Components, ComponentSlab{
			Descriptor: col.Batch.Descriptor,
			Handle:     handle,
			Array:      col.Batch.Array,
			Lengths:    append([]uint32(nil), col.Lengths...),
		})
	}

	return c, nil
}
