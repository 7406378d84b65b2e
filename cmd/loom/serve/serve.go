package servecmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/loom/cmd/loom/sqlitepath"
	"github.com/papercomputeco/loom/pkg/config"
	"github.com/papercomputeco/loom/pkg/logger"
	"github.com/papercomputeco/loom/server"
)

const serveLongDesc string = `Run the loom server.

Settings come from an optional TOML config file; flags override it.
When a config file is given it is watched, and model settings apply
to new runs without a restart.

Examples:
  loom serve
  loom serve --config ~/.loom/config.toml
  loom serve --listen :6061 --model llama3.2`

const serveShortDesc string = "Run the loom server"

type serveCommander struct {
	configPath string
	listenAddr string
	sqlitePath string
	model      string
	debug      bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to TOML config file")
	cmd.Flags().StringVarP(&cmder.listenAddr, "listen", "l", "", "Address to listen on")
	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to SQLite database")
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Model to run")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	if c.listenAddr != "" {
		cfg.Listen = c.listenAddr
	}
	if c.model != "" {
		cfg.Model.Name = c.model
	}
	if c.debug {
		cfg.Debug = true
	}

	if c.sqlitePath != "" {
		cfg.DB = c.sqlitePath
	} else if cfg.DB == "" {
		cfg.DB, err = sqlitepath.ResolveSQLitePath("")
		if err != nil {
			return err
		}
	}

	log := logger.NewLogger(cfg.Debug)
	defer log.Sync()

	s, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}
	defer s.Close()

	if c.configPath != "" {
		go func() {
			err := config.Watch(ctx, c.configPath, log, func(next config.Config) {
				s.UpdateModel(next.Model)
			})
			if err != nil && ctx.Err() == nil {
				log.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	return s.Run()
}
