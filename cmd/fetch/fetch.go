// Package fetch implements the jetdash fetch command: copy one file from the
// node over the shared session.
package fetch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"jetdash/internal/app"
	"jetdash/pkg/config"
	"jetdash/pkg/logger"
)

// Run ensures a session exists and retrieves remotePath into localPath.
// The session is left open.
func Run(configPath, remotePath, localPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level)

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	ttl, err := cfg.Remote.ParseControlPersist()
	if err != nil {
		return fmt.Errorf("parsing control_persist: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := a.Broker.EnsureSession(ctx, a.Target, ttl)
	if err != nil {
		return err
	}
	if err := h.Fetch(ctx, remotePath, localPath); err != nil {
		return fmt.Errorf("fetching %s: %w", remotePath, err)
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	log.Info().
		Str("remote", remotePath).
		Str("local", localPath).
		Str("size", humanize.Bytes(uint64(fi.Size()))).
		Msg("File retrieved")
	return nil
}
