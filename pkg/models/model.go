// Package models holds the core data model shared by the vizlog client
// engine and the vizlogd store: entity paths, timelines, time points,
// component descriptors and batches.
package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// StoreKind distinguishes the two store families a process can write to.
type StoreKind uint8

const (
	// StoreKindRecording holds actual logged data.
	StoreKindRecording StoreKind = iota
	// StoreKindBlueprint holds viewer layout/configuration, logged through
	// the identical API surface.
	StoreKindBlueprint
)

func (k StoreKind) String() string {
	if k == StoreKindBlueprint {
		return "blueprint"
	}
	return "recording"
}

// EntityPath is a slash-separated address in the tree-shaped entity
// namespace, e.g. "world/camera/points". The zero value denotes the root.
// Paths are immutable once constructed; uniqueness is not enforced.
type EntityPath struct {
	parts []string
}

// NewEntityPath parses a path string. Parts are separated by unescaped
// slashes; backslash escapes the next character inside a part. The empty
// string denotes the root "/".
func NewEntityPath(path string) EntityPath {
	path = strings.Trim(path, "/")
	if path == "" {
		return EntityPath{}
	}

	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range path {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '/':
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return EntityPath{parts: parts}
}

// Parts returns the path components. The returned slice must not be mutated.
func (p EntityPath) Parts() []string { return p.parts }

// IsRoot reports whether the path is the namespace root "/".
func (p EntityPath) IsRoot() bool { return len(p.parts) == 0 }

// Child returns the path extended by one (unescaped) part.
func (p EntityPath) Child(part string) EntityPath {
	parts := make([]string, len(p.parts), len(p.parts)+1)
	copy(parts, p.parts)
	return EntityPath{parts: append(parts, part)}
}

// String renders the path with parts re-escaped.
func (p EntityPath) String() string {
	if len(p.parts) == 0 {
		return "/"
	}
	escaped := make([]string, len(p.parts))
	for i, part := range p.parts {
		escaped[i] = escapePart(part)
	}
	return strings.Join(escaped, "/")
}

func escapePart(part string) string {
	if !strings.ContainsAny(part, `/\`) {
		return part
	}
	var b strings.Builder
	for _, r := range part {
		if r == '/' || r == '\\' {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TimeType is the kind of axis a timeline represents.
type TimeType uint8

const (
	// TimeTypeSequence is a monotonically increasing integer axis, e.g. a
	// frame number.
	TimeTypeSequence TimeType = iota
	// TimeTypeDuration is a signed nanosecond duration axis.
	TimeTypeDuration
	// TimeTypeTimestamp is nanoseconds since the Unix epoch.
	TimeTypeTimestamp
)

func (t TimeType) String() string {
	switch t {
	case TimeTypeSequence:
		return "sequence"
	case TimeTypeDuration:
		return "duration"
	case TimeTypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Timeline is a named time axis. A recording may have any number of
// concurrently active timelines.
type Timeline struct {
	Name string
	Type TimeType
}

// TimeCell is one coordinate on one timeline.
type TimeCell struct {
	Timeline Timeline
	Value    int64
}

// DurationCell builds a duration coordinate from a time.Duration.
func DurationCell(name string, d time.Duration) TimeCell {
	return TimeCell{Timeline: Timeline{Name: name, Type: TimeTypeDuration}, Value: d.Nanoseconds()}
}

// SecondsToNanos converts seconds to nanoseconds, rounding half up
// (toward positive infinity). This is the only implicit unit conversion
// the engine performs.
func SecondsToNanos(seconds float64) int64 {
	return int64(math.Floor(seconds*1e9 + 0.5))
}

// TimePoint maps timeline names to signed 64-bit coordinates. A log call
// whose time point is empty produces static (timeless) data, visible at
// every point on every timeline.
type TimePoint map[string]TimeCell

// IsStatic reports whether the time point places data on no timeline.
func (tp TimePoint) IsStatic() bool { return len(tp) == 0 }

// Set overwrites the coordinate for a timeline.
func (tp TimePoint) Set(cell TimeCell) {
	tp[cell.Timeline.Name] = cell
}

// Clone returns an independent copy.
func (tp TimePoint) Clone() TimePoint {
	out := make(TimePoint, len(tp))
	for k, v := range tp {
		out[k] = v
	}
	return out
}

// Cells returns the coordinates sorted by timeline name, for deterministic
// serialization.
func (tp TimePoint) Cells() []TimeCell {
	cells := make([]TimeCell, 0, len(tp))
	for _, c := range tp {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Timeline.Name < cells[j].Timeline.Name })
	return cells
}

// ComponentDescriptor identifies one component batch: the archetype it was
// logged as part of, the archetype field it fills, and the component type
// name. The descriptor is the join key the store uses to reassemble and
// override data later.
type ComponentDescriptor struct {
	Archetype string // e.g. "viz.archetypes.Points3D", may be empty
	Field     string // e.g. "positions", may be empty
	Component string // e.g. "viz.components.Position3D", required
}

// Validate checks the descriptor is usable as a registry key.
func (d ComponentDescriptor) Validate() error {
	if strings.TrimSpace(d.Component) == "" {
		return fmt.Errorf("component name must not be empty")
	}
	return nil
}

// Key returns the fully-qualified descriptor string used as the registry
// and store join key.
func (d ComponentDescriptor) Key() string {
	var b strings.Builder
	if d.Archetype != "" {
		b.WriteString(d.Archetype)
		b.WriteByte(':')
	}
	if d.Field != "" {
		b.WriteString(d.Field)
		b.WriteByte(':')
	}
	b.WriteString(d.Component)
	return b.String()
}

// ComponentBatch is an ordered sequence of instances of exactly one
// component type, already serialized into a columnar array.
type ComponentBatch struct {
	Descriptor ComponentDescriptor
	Array      arrow.Array
}

// NumInstances returns the instance count of the batch.
func (b ComponentBatch) NumInstances() int {
	if b.Array == nil {
		return 0
	}
	return b.Array.Len()
}

// IsSplat reports whether the batch is a single instance to be broadcast
// across all instances of a multi-instance row.
func (b ComponentBatch) IsSplat() bool { return b.NumInstances() == 1 }

// Release releases the underlying columnar array.
func (b ComponentBatch) Release() {
	if b.Array != nil {
		b.Array.Release()
	}
}

// DataRow is the atomic unit of the row-oriented logging API: one entity
// path, one time point, and one or more component batches.
type DataRow struct {
	EntityPath EntityPath
	TimePoint  TimePoint
	Components []ComponentBatch
}

// Release releases all component arrays held by the row.
func (r *DataRow) Release() {
	for _, c := range r.Components {
		c.Release()
	}
}

// TimeColumn is an array of coordinates on one timeline, one per logical
// row of a column-oriented send.
type TimeColumn struct {
	Timeline Timeline
	Times    []int64
}

// Len returns the number of logical rows the column spans.
func (c TimeColumn) Len() int { return len(c.Times) }

// ComponentColumn is a component batch partitioned across many logical
// rows: Lengths[i] instances belong to row i, and the partition lengths
// must sum to the batch's total instance count.
type ComponentColumn struct {
	Batch   ComponentBatch
	Lengths []uint32
}

// TotalInstances sums the declared partition lengths.
func (c ComponentColumn) TotalInstances() uint64 {
	var n uint64
	for _, l := range c.Lengths {
		n += uint64(l)
	}
	return n
}
