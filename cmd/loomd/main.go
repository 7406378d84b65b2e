package main

import (
	"flag"

	"go.uber.org/zap"

	"github.com/papercomputeco/loom/pkg/config"
	"github.com/papercomputeco/loom/pkg/logger"
	"github.com/papercomputeco/loom/server"
)

func main() {
	// Parse command line flags
	listenAddr := flag.String("listen", ":6061", "Address to listen on")
	upstreamURL := flag.String("upstream", "http://localhost:11434", "Upstream LLM provider URL (e.g., Ollama)")
	model := flag.String("model", "llama3.2", "Model to run")
	dbPath := flag.String("db", "", "Path to SQLite database (default: in-memory)")
	redisAddr := flag.String("redis", "", "Redis address for the history cache (default: no cache)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Set up logger
	logger := logger.NewLogger(*debug)
	defer logger.Sync()

	logger.Info("loomd starting",
		zap.String("listen", *listenAddr),
		zap.String("upstream", *upstreamURL),
		zap.String("model", *model),
		zap.Bool("debug", *debug),
	)

	cfg := config.Default()
	cfg.Listen = *listenAddr
	cfg.DB = *dbPath
	cfg.Debug = *debug
	cfg.Model.UpstreamURL = *upstreamURL
	cfg.Model.Name = *model
	cfg.Redis.Addr = *redisAddr

	s, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}
	defer s.Close()

	if err := s.Run(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
