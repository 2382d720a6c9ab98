package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/gatewatch/internal/application"
	"github.com/sawpanic/gatewatch/internal/config"
	gwlog "github.com/sawpanic/gatewatch/internal/log"
)

// loadConfig reads the --config file (or defaults) and applies its logging
// section to the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	gwlog.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// runMonitor starts the long-running service and blocks until a signal.
func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	monitor, err := application.NewMonitor(cfg, version)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	return monitor.Run(ctx)
}
