// Package shutdown coordinates graceful teardown of vizlogd components.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a component that can be shut down.
type Closer interface {
	Close() error
}

// Hook is a cleanup function run during shutdown.
type Hook func(ctx context.Context) error

// Shutdown order. Lower runs first.
const (
	PriorityHTTPServer = 10 // stop accepting inspection requests
	PriorityIngest     = 20 // stop the Flight endpoint
	PrioritySweeper    = 30 // stop background eviction
	PriorityStore      = 40 // release stored chunks last
)

type namedCloser struct {
	name     string
	closer   Closer
	priority int
}

type namedHook struct {
	name     string
	hook     Hook
	priority int
}

// Coordinator runs registered hooks and closers in priority order when a
// shutdown is triggered or a signal arrives.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	closers []namedCloser
	hooks   []namedHook

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
}

// New creates a coordinator that bounds the whole teardown by timeout.
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register adds a component. Lower priority shuts down first.
func (c *Coordinator) Register(name string, closer Closer, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, namedCloser{name: name, closer: closer, priority: priority})
}

// RegisterHook adds a cleanup function. Hooks run before components.
func (c *Coordinator) RegisterHook(name string, hook Hook, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, namedHook{name: name, hook: hook, priority: priority})
}

// WaitForSignal blocks until SIGINT/SIGTERM/SIGQUIT or a programmatic
// trigger.
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-quit:
		c.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// Trigger starts a shutdown programmatically. Safe to call concurrently.
func (c *Coordinator) Trigger() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

// Shutdown runs all hooks then all components in priority order. It runs
// at most once; later calls return the first result.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() { close(c.shutdownCh) })

		c.mu.Lock()
		closers := make([]namedCloser, len(c.closers))
		copy(closers, c.closers)
		hooks := make([]namedHook, len(c.hooks))
		copy(hooks, c.hooks)
		c.mu.Unlock()

		sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].priority < hooks[j].priority })
		sort.SliceStable(closers, func(i, j int) bool { return closers[i].priority < closers[j].priority })

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("components", len(closers)).
			Int("hooks", len(hooks)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		for _, h := range hooks {
			select {
			case <-ctx.Done():
				c.logger.Warn().Str("hook", h.name).Msg("Shutdown timeout, skipping remaining hooks")
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := h.hook(ctx); err != nil {
				c.logger.Error().Err(err).Str("hook", h.name).Msg("Shutdown hook failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		for _, nc := range closers {
			select {
			case <-ctx.Done():
				c.logger.Warn().Str("component", nc.name).Msg("Shutdown timeout, skipping remaining components")
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := nc.closer.Close(); err != nil {
				c.logger.Error().Err(err).Str("component", nc.name).Msg("Component shutdown failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		c.logger.Info().Dur("duration", time.Since(start)).Msg("Graceful shutdown complete")
	})

	return shutdownErr
}
