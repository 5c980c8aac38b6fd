// Package sink implements the destinations a recording stream can write
// to: an in-memory buffer (the initial state), a .vzl file on local or
// object storage, raw frames on standard output, a live viewer over gRPC,
// and a spawned viewer process. Exactly one sink is active per stream;
// switching sinks forwards the buffered backlog where semantically
// possible.
package sink

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/internal/registry"
)

// Sink is one destination for wire chunks. Send borrows the chunk; a sink
// that keeps it past the call must Retain it.
type Sink interface {
	Send(c *chunk.Chunk) error
	Close() error
	Kind() string
}

// Manager owns the active sink for one stream and implements the
// pipeline's Forwarder. Forward and Switch both run on the pipeline's
// consumer goroutine, so transitions are ordered with respect to the data
// around them.
type Manager struct {
	mu     sync.Mutex
	active Sink
	logger zerolog.Logger
}

// NewManager creates a manager starting in the Buffered state.
func NewManager(bufferLimit int64, logger zerolog.Logger) *Manager {
	log := logger.With().Str("component", "sink").Logger()
	return &Manager{
		active: newBuffered(bufferLimit, log),
		logger: log,
	}
}

// Forward sends one chunk to the active sink.
func (m *Manager) Forward(c *chunk.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Send(c)
}

// Switch replaces the active sink. A buffered predecessor's backlog is
// forwarded into the new sink; any other predecessor is closed, since its
// data has already left the process and is not duplicated.
func (m *Manager) Switch(next Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.active
	m.active = next

	if buf, ok := prev.(*Buffered); ok {
		backlog := buf.Drain()
		for _, c := range backlog {
			if err := next.Send(c); err != nil {
				errcode.Handle(m.logger, err)
			}
			c.Release()
		}
		m.logger.Info().
			Str("from", prev.Kind()).
			Str("to", next.Kind()).
			Int("backlog_chunks", len(backlog)).
			Msg("Switched sink, backlog forwarded")
		return
	}

	if err := prev.Close(); err != nil {
		errcode.Handle(m.logger, err)
	}
	m.logger.Info().Str("from", prev.Kind()).Str("to", next.Kind()).Msg("Switched sink")
}

// ActiveKind returns the active sink's kind for introspection.
func (m *Manager) ActiveKind() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Kind()
}

// Close closes the active sink.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Close()
}

// handleSet tracks which component type schemas have been transmitted to
// a sink, so each schema goes over the wire at most once per sink.
type handleSet map[registry.Handle]struct{}

// missing collects the chunk's handles that have not been sent yet and
// marks them sent, returning the register entries to transmit first.
func (h handleSet) missing(c *chunk.Chunk) []chunk.RegisterEntry {
	var entries []chunk.RegisterEntry
	for _, s := range c.Components {
		if s.Handle == 0 {
			continue
		}
		if _, ok := h[s.Handle]; ok {
			continue
		}
		h[s.Handle] = struct{}{}
		entries = append(entries, chunk.RegisterEntry{
			Handle:     s.Handle,
			Descriptor: s.Descriptor,
			DataType:   s.Array.DataType(),
		})
	}
	return entries
}
