package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/martinemde/codepair/web"
)

// Run serves the HTTP API until interrupted.
func (c *ServeCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Port > 0 {
		cfg.Web.Port = c.Port
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("codepair starting",
		"version", version,
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"toolchain", cfg.Sandbox.Toolchain,
		"store", cfg.Store.Enabled,
		"nats", cfg.NATS.Enabled,
	)

	srv := web.NewServer(a, a.store, cfg.Web, version, logger)
	return srv.Start(ctx)
}
