// Package pipeline implements the ordered, asynchronous batching pipeline
// between the logging API and the active sink. Logging calls enqueue and
// return immediately; a single consumer goroutine preserves submission
// order and forwards chunks to the forwarder. There is no cross-goroutine
// ordering guarantee beyond the FIFO of the shared queue.
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
)

// Forwarder receives chunks in submission order. The sink manager
// implements it.
type Forwarder interface {
	Forward(c *chunk.Chunk) error
}

// Config tunes the pipeline.
type Config struct {
	QueueSize    int           // bounded intake queue; enqueue blocks when full
	CloseTimeout time.Duration // how long Close waits for the queue to drain
}

type item struct {
	chunk   *chunk.Chunk
	barrier chan struct{}
	control func()
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Enqueued      int64 `json:"enqueued"`
	Forwarded     int64 `json:"forwarded"`
	Errors        int64 `json:"errors"`
	FlushTimeouts int64 `json:"flush_timeouts"`
}

// Pipeline is a single-consumer ordered queue in front of a Forwarder.
type Pipeline struct {
	queue chan item
	fwd   Forwarder

	closeTimeout time.Duration
	closed       atomic.Bool
	// mu serializes intake against Close so sends never race the channel
	// close.
	mu sync.RWMutex
	wg sync.WaitGroup

	enqueued      atomic.Int64
	forwarded     atomic.Int64
	errors        atomic.Int64
	flushTimeouts atomic.Int64

	logger zerolog.Logger
}

// New creates a pipeline and starts its consumer goroutine.
func New(cfg Config, fwd Forwarder, logger zerolog.Logger) *Pipeline {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 2 * time.Second
	}

	p := &Pipeline{
		queue:        make(chan item, queueSize),
		fwd:          fwd,
		closeTimeout: closeTimeout,
		logger:       logger.With().Str("component", "pipeline").Logger(),
	}

	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for it := range p.queue {
		switch {
		case it.barrier != nil:
			close(it.barrier)
		case it.control != nil:
			it.control()
		case it.chunk != nil:
			if err := p.fwd.Forward(it.chunk); err != nil {
				p.errors.Add(1)
				errcode.Handle(p.logger, err)
			} else {
				p.forwarded.Add(1)
			}
			it.chunk.Release()
		}
	}
}

// Submit enqueues a chunk, taking ownership of its arrays. Blocks only
// when the intake queue is full.
func (p *Pipeline) Submit(c *chunk.Chunk) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		c.Release()
		return errcode.New(errcode.StreamClosed, "pipeline is closed")
	}
	p.enqueued.Add(1)
	p.queue <- item{chunk: c}
	return nil
}

// Control enqueues an ordered control operation (e.g. a sink switch). The
// operation runs on the consumer goroutine after everything submitted
// before it.
func (p *Pipeline) Control(fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return errcode.New(errcode.StreamClosed, "pipeline is closed")
	}
	p.queue <- item{control: fn}
	return nil
}

// FlushBlocking waits until everything submitted by the caller up to this
// point has been handed off to the forwarder. A negative timeout waits
// indefinitely. On timeout, delivery of the remaining data is not
// guaranteed; this is surfaced only as a logged warning.
func (p *Pipeline) FlushBlocking(timeout time.Duration) {
	p.mu.RLock()
	if p.closed.Load() {
		p.mu.RUnlock()
		return
	}
	barrier := make(chan struct{})
	p.queue <- item{barrier: barrier}
	p.mu.RUnlock()

	if timeout < 0 {
		<-barrier
		return
	}
	select {
	case <-barrier:
	case <-time.After(timeout):
		p.flushTimeouts.Add(1)
		p.logger.Warn().
			Dur("timeout", timeout).
			Msg("Flush timed out; pending data may not have reached the sink")
	}
}

// Close stops intake and drains the queue, waiting at most the configured
// close timeout. Idempotent.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.closeTimeout):
		p.logger.Warn().
			Dur("timeout", p.closeTimeout).
			Msg("Pipeline close timed out before the queue drained")
	}
	return nil
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Enqueued:      p.enqueued.Load(),
		Forwarded:     p.forwarded.Load(),
		Errors:        p.errors.Load(),
		FlushTimeouts: p.flushTimeouts.Load(),
	}
}
