// Package server provides the loom HTTP service: thread lifecycle,
// streamed draft generation with human-in-the-loop feedback, and DAG
// inspection and sync endpoints.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/papercomputeco/loom/pkg/chat"
	"github.com/papercomputeco/loom/pkg/config"
	"github.com/papercomputeco/loom/pkg/graph"
	"github.com/papercomputeco/loom/pkg/history"
	"github.com/papercomputeco/loom/pkg/merkle"
	"github.com/papercomputeco/loom/pkg/refine"
	"github.com/papercomputeco/loom/pkg/storage/sqlite"
)

// Server runs the loom HTTP API.
type Server struct {
	cfg    config.Config
	storer merkle.Storer
	mgr    *history.Manager
	saver  graph.Saver
	gen    refine.Generator
	logger *zap.Logger
	app    *fiber.App

	// model settings are hot-reloadable
	modelMu sync.RWMutex
	model   config.ModelConfig
}

// New creates a Server. An empty DB path uses in-memory storage.
func New(cfg config.Config, logger *zap.Logger) (*Server, error) {
	ctx := context.Background()

	var storer merkle.Storer
	var heads history.HeadStore
	var saver graph.Saver

	if cfg.DB != "" {
		driver, err := sqlite.NewDriver(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite driver: %w", err)
		}
		storer = driver
		heads = driver
		saver = driver.Saver()
		logger.Info("using SQLite storage", zap.String("path", cfg.DB))
	} else {
		storer = merkle.NewMemoryStorer()
		heads = history.NewMemoryHeadStore()
		saver = graph.NewMemorySaver()
		logger.Info("using in-memory storage")
	}

	mgrOpts := []history.Option{history.WithLogger(logger)}
	if cfg.Redis.Addr != "" {
		cache, err := history.NewCache(ctx,
			redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr}),
			time.Duration(cfg.Redis.TTLSeconds)*time.Second,
		)
		if err != nil {
			// The cache is an optimization; run without it.
			logger.Warn("history cache unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			mgrOpts = append(mgrOpts, history.WithCache(cache))
			logger.Info("using redis history cache", zap.String("addr", cfg.Redis.Addr))
		}
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	s := &Server{
		cfg:    cfg,
		storer: storer,
		mgr:    history.NewManager(storer, heads, mgrOpts...),
		saver:  saver,
		gen:    chat.NewClient(cfg.Model.UpstreamURL),
		logger: logger,
		app:    app,
		model:  cfg.Model,
	}

	s.registerRoutes(app)
	return s, nil
}

func (s *Server) registerRoutes(app *fiber.App) {
	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	// Thread lifecycle
	app.Post("/api/threads", s.handleCreateThread)
	app.Get("/api/threads", s.handleListThreads)
	app.Post("/api/threads/:id/feedback", s.handleFeedback)
	app.Get("/api/threads/:id/history", s.handleGetHistory)

	// DAG inspection and sync endpoints
	app.Get("/dag/stats", s.handleDAGStats)
	app.Get("/dag/node/:hash", s.handleGetNode)
	app.Post("/dag/nodes", s.handleIngestNodes)
	app.Post("/dag/threads", s.handleIngestThreads)

	// MCP tools over HTTP
	app.All("/mcp", adaptor.HTTPHandler(s.mcpHandler()))
}

// Run starts the server on the configured listen address.
func (s *Server) Run() error {
	s.logger.Info("starting loom server",
		zap.String("listen", s.cfg.Listen),
		zap.String("upstream", s.cfg.Model.UpstreamURL),
		zap.String("model", s.cfg.Model.Name),
	)

	return s.app.Listen(s.cfg.Listen)
}

// RunWithListener serves on an existing listener.
func (s *Server) RunWithListener(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// Close shuts down the server and releases resources.
func (s *Server) Close() error {
	return s.storer.Close()
}

// UpdateModel swaps the model settings used for new runs.
func (s *Server) UpdateModel(mc config.ModelConfig) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()

	if mc.UpstreamURL != s.model.UpstreamURL {
		s.gen = chat.NewClient(mc.UpstreamURL)
	}
	s.model = mc

	s.logger.Info("model settings updated",
		zap.String("model", mc.Name),
		zap.Float64("temperature", mc.Temperature),
	)
}

func (s *Server) modelConfig() (refine.Config, refine.Generator) {
	s.modelMu.RLock()
	defer s.modelMu.RUnlock()

	return refine.Config{
		Model:       s.model.Name,
		Temperature: s.model.Temperature,
		MaxRetries:  s.model.MaxRetries,
	}, s.gen
}

// mcpHandler exposes thread history as MCP tools.
func (s *Server) mcpHandler() http.Handler {
	srv := mcpServer(s)
	return streamableHandler(srv)
}
