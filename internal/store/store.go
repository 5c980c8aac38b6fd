// Package store implements the vizlogd in-memory chunk store: ingested
// chunks indexed by store kind, entity path and timeline, bounded by a
// configurable memory ceiling. When the ceiling is exceeded the oldest
// non-static chunks are evicted first; static data is never evicted by
// this policy.
package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/internal/registry"
	"github.com/vizlog-io/vizlog/pkg/models"
)

// DefaultMemoryBudget bounds the store when no budget is configured.
const DefaultMemoryBudget = 1 << 30 // 1 GiB

type entityKey struct {
	kind   models.StoreKind
	entity string
}

type storedChunk struct {
	seq      uint64
	c        *chunk.Chunk
	ingested time.Time
	bytes    int64
}

// Store holds ingested chunks.
type Store struct {
	mu      sync.RWMutex
	budget  int64
	bytes   int64
	seq     uint64
	ordered []*storedChunk // ingest order, eviction scan order
	byKey   map[entityKey][]*storedChunk
	types   map[registry.Handle]chunk.RegisterEntry

	ingested atomic.Int64
	evicted  atomic.Int64

	logger zerolog.Logger
}

// New creates a store with the given memory budget in bytes.
func New(budget int64, logger zerolog.Logger) *Store {
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}
	return &Store{
		budget: budget,
		byKey:  make(map[entityKey][]*storedChunk),
		types:  make(map[registry.Handle]chunk.RegisterEntry),
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// IngestMessage applies one decoded wire message.
func (s *Store) IngestMessage(msg *chunk.Message) error {
	if msg.Chunk != nil {
		return s.Insert(msg.Chunk)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range msg.Register {
		if existing, ok := s.types[e.Handle]; ok {
			if !arrow.TypeEqual(existing.DataType, e.DataType) {
				return errcode.New(errcode.TypeMismatch,
					"component handle %d re-registered with different schema", e.Handle)
			}
			continue
		}
		s.types[e.Handle] = e
	}
	return nil
}

// Insert takes ownership of the chunk and indexes it, evicting if the
// memory budget is exceeded.
func (s *Store) Insert(c *chunk.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	sc := &storedChunk{
		seq:      s.seq,
		c:        c,
		ingested: time.Now(),
		bytes:    c.ApproxBytes(),
	}
	s.ordered = append(s.ordered, sc)
	key := entityKey{kind: c.StoreKind, entity: c.Entity.String()}
	s.byKey[key] = append(s.byKey[key], sc)
	s.bytes += sc.bytes
	s.ingested.Add(1)

	s.evictLocked()
	return nil
}

// evictLocked drops the oldest non-static chunks until the store is under
// budget. Static chunks are exempt.
func (s *Store) evictLocked() {
	if s.bytes <= s.budget {
		return
	}
	for i := 0; i < len(s.ordered) && s.bytes > s.budget; {
		sc := s.ordered[i]
		if sc.c.Static() {
			i++
			continue
		}
		s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
		key := entityKey{kind: sc.c.StoreKind, entity: sc.c.Entity.String()}
		s.byKey[key] = removeChunk(s.byKey[key], sc)
		s.bytes -= sc.bytes
		s.evicted.Add(1)
		sc.c.Release()
	}
	s.logger.Debug().
		Int64("bytes", s.bytes).
		Int64("budget", s.budget).
		Msg("Eviction pass complete")
}

func removeChunk(list []*storedChunk, target *storedChunk) []*storedChunk {
	for i, sc := range list {
		if sc == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Sweep runs an eviction pass. The periodic sweeper calls this so a store
// that went over budget through many small inserts converges promptly.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
}

// Row is one reconstructed logical row on a timeline: its coordinate and
// a per-component-descriptor slice of instances. The caller must Release
// every array in Components.
type Row struct {
	Time       int64
	Components map[string]arrow.Array
}

// Release releases all component slices of the row.
func (r *Row) Release() {
	for _, a := range r.Components {
		a.Release()
	}
}

// RangeRows reconstructs all logical rows for an entity on a timeline,
// sorted by time coordinate then ingest order. Static chunks are not
// part of any timeline range; see StaticComponents.
func (s *Store) RangeRows(kind models.StoreKind, entity string, timeline string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type keyed struct {
		row Row
		seq uint64
	}
	var rows []keyed

	canonical := models.NewEntityPath(entity).String()
	for _, sc := range s.byKey[entityKey{kind: kind, entity: canonical}] {
		var times []int64
		for _, tl := range sc.c.Timelines {
			if tl.Timeline.Name == timeline {
				times = tl.Times
				break
			}
		}
		if times == nil {
			continue
		}
		for i := 0; i < sc.c.NumRows; i++ {
			comps := make(map[string]arrow.Array, len(sc.c.Components))
			for ci := range sc.c.Components {
				slab := &sc.c.Components[ci]
				comps[slab.Descriptor.Key()] = slab.RowSlice(i)
			}
			rows = append(rows, keyed{row: Row{Time: times[i], Components: comps}, seq: sc.seq})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].row.Time != rows[j].row.Time {
			return rows[i].row.Time < rows[j].row.Time
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]Row, len(rows))
	for i, k := range rows {
		out[i] = k.row
	}
	return out
}

// StaticComponents returns the latest static batch per component
// descriptor for an entity. Static data is visible at every point on
// every timeline. The caller must Release the returned arrays.
func (s *Store) StaticComponents(kind models.StoreKind, entity string) map[string]arrow.Array {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]arrow.Array)
	canonical := models.NewEntityPath(entity).String()
	for _, sc := range s.byKey[entityKey{kind: kind, entity: canonical}] {
		if !sc.c.Static() {
			continue
		}
		// Later static logs override earlier ones per descriptor.
		for ci := range sc.c.Components {
			slab := &sc.c.Components[ci]
			key := slab.Descriptor.Key()
			if prev, ok := out[key]; ok {
				prev.Release()
			}
			slab.Array.Retain()
			out[key] = slab.Array
		}
	}
	return out
}

// QueryAt returns, per component descriptor, the instances visible at the
// given coordinate: the latest temporal row at or before the coordinate,
// overlaid with static components. The caller must Release the arrays.
func (s *Store) QueryAt(kind models.StoreKind, entity string, timeline string, at int64) map[string]arrow.Array {
	rows := s.RangeRows(kind, entity, timeline)

	out := make(map[string]arrow.Array)
	for _, row := range rows {
		if row.Time > at {
			row.Release()
			continue
		}
		for key, arr := range row.Components {
			if prev, ok := out[key]; ok {
				prev.Release()
			}
			out[key] = arr
		}
	}

	for key, arr := range s.StaticComponents(kind, entity) {
		if prev, ok := out[key]; ok {
			prev.Release()
		}
		out[key] = arr
	}
	return out
}

// Entities lists entity paths present for a store kind.
func (s *Store) Entities(kind models.StoreKind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for key := range s.byKey {
		if key.kind == kind && len(s.byKey[key]) > 0 {
			out = append(out, key.entity)
		}
	}
	sort.Strings(out)
	return out
}

// Stats is a snapshot of store counters.
type Stats struct {
	Chunks   int   `json:"chunks"`
	Bytes    int64 `json:"bytes"`
	Budget   int64 `json:"budget"`
	Ingested int64 `json:"ingested"`
	Evicted  int64 `json:"evicted"`
	Types    int   `json:"component_types"`
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Chunks:   len(s.ordered),
		Bytes:    s.bytes,
		Budget:   s.budget,
		Ingested: s.ingested.Load(),
		Evicted:  s.evicted.Load(),
		Types:    len(s.types),
	}
}

// Close releases every stored chunk.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.ordered {
		sc.c.Release()
	}
	s.ordered = nil
	s.byKey = make(map[entityKey][]*storedChunk)
	s.bytes = 0
	return nil
}
