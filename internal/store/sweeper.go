package store

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper runs periodic eviction passes against a store on a cron
// schedule, so memory pressure built up between inserts is released even
// when ingest goes quiet.
type Sweeper struct {
	store    *Store
	schedule string
	cron     *cron.Cron
	running  bool
	mu       sync.Mutex
	logger   zerolog.Logger
}

// SweeperConfig holds configuration for the eviction sweeper.
type SweeperConfig struct {
	Store    *Store
	Schedule string // cron schedule, seconds field supported (e.g. "*/30 * * * * *")
	Logger   zerolog.Logger
}

// NewSweeper creates an eviction sweeper. The default schedule runs every
// 30 seconds.
func NewSweeper(cfg *SweeperConfig) (*Sweeper, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "*/30 * * * * *"
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, err
	}

	s := &Sweeper{
		store:    cfg.Store,
		schedule: schedule,
		logger:   cfg.Logger.With().Str("component", "eviction-sweeper").Logger(),
	}

	s.logger.Info().
		Str("schedule", schedule).
		Msg("Eviction sweeper initialized")

	return s, nil
}

// Start starts the sweeper.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Eviction sweeper already running")
		return nil
	}

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runSweep()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Msg("Eviction sweeper started")

	return nil
}

// Stop stops the sweeper and waits for a running sweep to complete.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}

	s.running = false
	s.logger.Info().Msg("Eviction sweeper stopped")
}

func (s *Sweeper) runSweep() {
	start := time.Now()
	before := s.store.Stats()
	s.store.Sweep()
	after := s.store.Stats()

	if after.Evicted > before.Evicted {
		s.logger.Info().
			Int64("evicted_chunks", after.Evicted-before.Evicted).
			Int64("bytes", after.Bytes).
			Dur("duration", time.Since(start)).
			Msg("Eviction sweep reclaimed memory")
	}
}
