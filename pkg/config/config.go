// Package config loads the loom configuration from a TOML file and
// watches it for changes.
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Config is the top-level configuration.
type Config struct {
	// Listen is the server listen address (e.g. ":6061")
	Listen string `toml:"listen"`

	// DB is the path to the SQLite database. Empty means in-memory.
	DB string `toml:"db"`

	// Debug enables debug logging.
	Debug bool `toml:"debug"`

	Model ModelConfig `toml:"model"`
	Redis RedisConfig `toml:"redis"`
}

// ModelConfig configures the upstream model.
type ModelConfig struct {
	// UpstreamURL is the Ollama-compatible provider URL.
	UpstreamURL string `toml:"upstream_url"`

	// Name of the model to run (e.g. "llama3.2").
	Name string `toml:"name"`

	Temperature float64 `toml:"temperature"`

	// MaxRetries bounds generation attempts per draft.
	MaxRetries int `toml:"max_retries"`
}

// RedisConfig configures the optional history cache.
type RedisConfig struct {
	// Addr enables the cache when non-empty (e.g. "localhost:6379").
	Addr string `toml:"addr"`

	// TTLSeconds bounds cache entry lifetime. Zero uses the default.
	TTLSeconds int `toml:"ttl_seconds"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen: ":6061",
		Model: ModelConfig{
			UpstreamURL: "http://localhost:11434",
			Name:        "llama3.2",
			Temperature: 0.7,
			MaxRetries:  3,
		},
	}
}

// Load reads a TOML file over the defaults. A missing file returns
// the defaults without error; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Watch reloads the config whenever the file changes and invokes fn
// with the new value. It blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *zap.Logger, fn func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed", zap.String("path", path), zap.Error(err))
				continue
			}

			logger.Info("config reloaded", zap.String("path", path))
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
