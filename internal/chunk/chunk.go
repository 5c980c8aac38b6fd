// Package chunk implements the engine's wire unit: a Chunk is one entity
// path plus N logical rows of component data, either row-oriented (N=1)
// or column-oriented (N rows sharing one time column). The package also
// implements the wire codec: a msgpack envelope header framing Arrow IPC
// payloads, used identically for live transport and .vzl files.
package chunk

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/vizlog-io/vizlog/internal/registry"
	"github.com/vizlog-io/vizlog/pkg/models"
)

// Allocator is the shared allocator for all chunk building. GoAllocator is
// safe for concurrent use.
var Allocator = memory.NewGoAllocator()

// TimelineColumn holds one coordinate per logical row on one timeline.
type TimelineColumn struct {
	Timeline models.Timeline
	Times    []int64
}

// ComponentSlab is one component's data across all logical rows of a
// chunk. Lengths partitions the array: Lengths[i] instances belong to row
// i, and the lengths sum to Array.Len().
type ComponentSlab struct {
	Descriptor models.ComponentDescriptor
	Handle     registry.Handle
	Array      arrow.Array
	Lengths    []uint32
}

// RowSlice returns a zero-copy view of the instances belonging to row i.
// The caller must Release the returned array.
func (s *ComponentSlab) RowSlice(i int) arrow.Array {
	var start int64
	for r := 0; r < i; r++ {
		start += int64(s.Lengths[r])
	}
	return array.NewSlice(s.Array, start, start+int64(s.Lengths[i]))
}

// Chunk is the atomic unit handed to the batching pipeline and to sinks.
type Chunk struct {
	ID          string
	RecordingID string
	StoreKind   models.StoreKind
	Entity      models.EntityPath
	NumRows     int
	Timelines   []TimelineColumn
	Components  []ComponentSlab
}

// Static reports whether the chunk is placed on no timeline and is
// therefore visible at every time on every timeline.
func (c *Chunk) Static() bool { return len(c.Timelines) == 0 }

// NumInstances returns the total instance count across all rows of the
// largest component slab. Used for stats only.
func (c *Chunk) NumInstances() int {
	max := 0
	for _, s := range c.Components {
		if s.Array != nil && s.Array.Len() > max {
			max = s.Array.Len()
		}
	}
	return max
}

// Release releases all columnar arrays held by the chunk.
func (c *Chunk) Release() {
	for _, s := range c.Components {
		if s.Array != nil {
			s.Array.Release()
		}
	}
	c.Components = nil
}

// Retain adds a reference to all columnar arrays held by the chunk.
func (c *Chunk) Retain() {
	for _, s := range c.Components {
		if s.Array != nil {
			s.Array.Retain()
		}
	}
}

// ApproxBytes estimates the chunk's in-memory footprint from the Arrow
// buffer lengths. Used for buffer bounds and store eviction accounting.
func (c *Chunk) ApproxBytes() int64 {
	var total int64
	for _, s := range c.Components {
		if s.Array == nil {
			continue
		}
		for _, buf := range s.Array.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
		total += int64(len(s.Lengths)) * 4
	}
	for _, tl := range c.Timelines {
		total += int64(len(tl.Times)) * 8
	}
	return total
}

// EnvelopeSchema is the fixed Flight schema carrying wire frames over
// gRPC: one binary column, one frame per row.
var EnvelopeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "envelope", Type: arrow.BinaryTypes.Binary},
}, nil)

func newChunkID() string { return uuid.NewString() }
