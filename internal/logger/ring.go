package logger

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
}

// Ring is a fixed-size circular buffer of recent log entries.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

const defaultRingSize = 4096

var (
	globalRing *Ring
	ringOnce   sync.Once
)

// Recent returns the process-wide ring.
func Recent() *Ring {
	ringOnce.Do(func() {
		globalRing = NewRing(defaultRingSize)
	})
	return globalRing
}

// NewRing creates a ring holding up to size entries.
func NewRing(size int) *Ring {
	return &Ring{entries: make([]Entry, size)}
}

// Add appends an entry, overwriting the oldest once the ring is full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Tail returns up to limit entries, newest first, filtered to the given
// minimum level when level is non-empty.
func (r *Ring) Tail(limit int, level string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	min, hasMin := levelRank(level)

	var out []Entry
	for i := 0; i < r.count && len(out) < limit; i++ {
		idx := (r.head - 1 - i + len(r.entries)) % len(r.entries)
		e := r.entries[idx]
		if hasMin {
			if rank, ok := levelRank(e.Level); !ok || rank < min {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func levelRank(level string) (int, bool) {
	switch strings.ToLower(level) {
	case "trace":
		return 0, true
	case "debug":
		return 1, true
	case "info":
		return 2, true
	case "warn", "warning":
		return 3, true
	case "error":
		return 4, true
	case "fatal":
		return 5, true
	}
	return 0, false
}

// RingWriter tees zerolog output into the global ring.
type RingWriter struct {
	ring *Ring
	next io.Writer
}

// NewRingWriter wraps next so every line written through it is also
// parsed into the global ring.
func NewRingWriter(next io.Writer) *RingWriter {
	return &RingWriter{ring: Recent(), next: next}
}

func (w *RingWriter) Write(p []byte) (int, error) {
	n := len(p)
	var err error
	if w.next != nil {
		n, err = w.next.Write(p)
	}

	var raw struct {
		Level     string `json:"level"`
		Component string `json:"component"`
		Message   string `json:"message"`
		Time      string `json:"time"`
	}
	if jerr := json.Unmarshal(p, &raw); jerr == nil && (raw.Message != "" || raw.Level != "") {
		ts := time.Now()
		if raw.Time != "" {
			if parsed, perr := time.Parse(time.RFC3339, raw.Time); perr == nil {
				ts = parsed
			}
		}
		w.ring.Add(Entry{
			Timestamp: ts,
			Level:     strings.ToUpper(raw.Level),
			Component: raw.Component,
			Message:   raw.Message,
		})
	}
	return n, err
}
