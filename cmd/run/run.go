// Package run implements the jetdash run command: attach, connect and poll
// until interrupted.
package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"

	"jetdash/internal/app"
	"jetdash/internal/poller"
	"jetdash/pkg/config"
	"jetdash/pkg/logger"
)

// Run starts the poll loop and blocks until SIGINT or SIGTERM.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level)

	// Only one poller may drive the session and overwrite the artifacts.
	lockDir := filepath.Dir(cfg.Output.LockPath)
	if err := os.MkdirAll(lockDir, 0700); err != nil {
		return fmt.Errorf("creating lock directory %s: %w", lockDir, err)
	}
	lock := flock.New(cfg.Output.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", cfg.Output.LockPath, err)
	}
	if !locked {
		return fmt.Errorf("another jetdash run holds %s", cfg.Output.LockPath)
	}
	defer lock.Unlock()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	a.LogStartup()

	var recorder poller.Recorder
	history, err := a.History()
	if err != nil {
		log.Warn().Err(err).Msg("History disabled")
	} else if history != nil {
		defer history.Close()
		recorder = history
	}

	controller, err := a.Controller(recorder)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("target", a.Target.String()).
		Int("networks", len(cfg.Networks)).
		Str("result_path", cfg.Output.ResultPath).
		Msg("Starting jetdash")

	return controller.Run(ctx)
}
