package server

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/logger"
	"github.com/vizlog-io/vizlog/internal/store"
	"github.com/vizlog-io/vizlog/pkg/models"
)

var startTime = time.Now()

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultHTTPConfig returns the default HTTP configuration.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Port:            9435,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// HTTPServer exposes health, stats and log endpoints next to the Flight
// ingest port.
type HTTPServer struct {
	app    *fiber.App
	store  *store.Store
	config *HTTPConfig
	logger zerolog.Logger
}

// NewHTTPServer creates the HTTP API server.
func NewHTTPServer(config *HTTPConfig, st *store.Store, log zerolog.Logger) *HTTPServer {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	app := fiber.New(fiber.Config{
		AppName:               "vizlogd",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	s := &HTTPServer{
		app:    app,
		store:  st,
		config: config,
		logger: log.With().Str("component", "http-server").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *HTTPServer) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/ready", s.readyHandler)
	s.app.Get("/api/v1/stats", s.statsHandler)
	s.app.Get("/api/v1/entities", s.entitiesHandler)
	s.app.Get("/api/v1/logs", s.logsHandler)
}

func (s *HTTPServer) healthHandler(c *fiber.Ctx) error {
	uptime := time.Since(startTime)
	return c.JSON(fiber.Map{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime":     uptime.String(),
		"uptime_sec": uptime.Seconds(),
	})
}

func (s *HTTPServer) readyHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ready",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime_sec": time.Since(startTime).Seconds(),
	})
}

func (s *HTTPServer) statsHandler(c *fiber.Ctx) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(fiber.Map{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"store":     s.store.Stats(),
		"runtime": fiber.Map{
			"goroutines":       runtime.NumGoroutine(),
			"heap_alloc_bytes": mem.HeapAlloc,
			"sys_bytes":        mem.Sys,
			"gc_cycles":        mem.NumGC,
			"uptime_sec":       time.Since(startTime).Seconds(),
		},
	})
}

func (s *HTTPServer) entitiesHandler(c *fiber.Ctx) error {
	kind := models.StoreKindRecording
	if c.Query("store") == "blueprint" {
		kind = models.StoreKindBlueprint
	}
	entities := s.store.Entities(kind)
	if entities == nil {
		entities = []string{}
	}
	return c.JSON(fiber.Map{
		"store":    kind.String(),
		"entities": entities,
	})
}

func (s *HTTPServer) logsHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	level := c.Query("level")
	entries := logger.Recent().Tail(limit, level)
	if entries == nil {
		entries = []logger.Entry{}
	}
	return c.JSON(fiber.Map{
		"count":   len(entries),
		"entries": entries,
	})
}

// Start serves HTTP, blocking until shutdown.
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	return s.app.Listen(addr)
}

// Shutdown stops the HTTP server gracefully.
func (s *HTTPServer) Shutdown() error {
	return s.app.ShutdownWithTimeout(s.config.ShutdownTimeout)
}
