package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vizlog-io/vizlog/internal/config"
	"github.com/vizlog-io/vizlog/internal/loader"
	"github.com/vizlog-io/vizlog/internal/logger"
	"github.com/vizlog-io/vizlog/internal/server"
	"github.com/vizlog-io/vizlog/internal/shutdown"
	"github.com/vizlog-io/vizlog/internal/store"
)

// Version is set at build time.
var Version = "dev"

func main() {
	grpcPort := flag.Int("grpc-port", 0, "Flight ingest port (overrides config)")
	httpPort := flag.Int("http-port", 0, "HTTP API port (overrides config)")
	memoryBudget := flag.String("memory-budget", "", "store memory ceiling, e.g. 512MB (overrides config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *grpcPort != 0 {
		cfg.Grpc.Port = *grpcPort
	}
	if *httpPort != 0 {
		cfg.HTTP.Port = *httpPort
	}
	if *memoryBudget != "" {
		budget, err := config.ParseSize(*memoryBudget)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --memory-budget: %v\n", err)
			os.Exit(1)
		}
		cfg.Store.MemoryBudget = budget
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting vizlogd...")

	st := store.New(cfg.Store.MemoryBudget, logger.Get("store"))

	sweeper, err := store.NewSweeper(&store.SweeperConfig{
		Store:    st,
		Schedule: cfg.Sweeper.Schedule,
		Logger:   logger.Get("sweeper"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sweeper schedule")
	}
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start eviction sweeper")
	}

	// Files named on the command line are ingested before serving.
	if args := flag.Args(); len(args) > 0 {
		ld := loader.New(logger.Get("loader"))
		recordingID := uuid.NewString()
		for _, path := range args {
			if err := ld.LoadFile(path, recordingID, st.IngestMessage); err != nil {
				log.Fatal().Err(err).Str("path", path).Msg("Failed to load file")
			}
		}
		log.Info().Int("files", len(args)).Msg("Command-line files ingested")
	}

	flightSrv := server.NewFlightServer(st, logger.Get("flight"))
	httpSrv := server.NewHTTPServer(&server.HTTPConfig{
		Port:            cfg.HTTP.Port,
		ReadTimeout:     time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}, st, logger.Get("http"))

	coordinator := shutdown.New(30*time.Second, logger.Get("shutdown"))

	var g errgroup.Group
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.Grpc.Host, cfg.Grpc.Port)
		if err := flightSrv.Serve(addr); err != nil {
			coordinator.Trigger()
			return err
		}
		return nil
	})
	if cfg.HTTP.Enabled {
		g.Go(func() error {
			if err := httpSrv.Start(); err != nil {
				coordinator.Trigger()
				return err
			}
			return nil
		})
	}

	if cfg.HTTP.Enabled {
		coordinator.Register("http-server", closerFunc(httpSrv.Shutdown), shutdown.PriorityHTTPServer)
	}
	coordinator.Register("flight-server", closerFunc(func() error {
		flightSrv.Shutdown()
		return nil
	}), shutdown.PriorityIngest)
	coordinator.Register("eviction-sweeper", closerFunc(func() error {
		sweeper.Stop()
		return nil
	}), shutdown.PrioritySweeper)
	coordinator.Register("store", st, shutdown.PriorityStore)

	coordinator.WaitForSignal()
	if err := coordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with errors")
		os.Exit(1)
	}
	if err := g.Wait(); err != nil {
		log.Debug().Err(err).Msg("Server goroutines exited")
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
