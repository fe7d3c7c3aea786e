// Package closesession implements the jetdash close command.
package closesession

import (
	"context"
	"fmt"
	"time"

	"jetdash/internal/app"
	"jetdash/pkg/config"
	"jetdash/pkg/logger"
)

// Run tears down the node session. It succeeds when no session exists.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level)

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if !a.Broker.Alive(ctx, a.Target) {
		log.Info().Str("target", a.Target.String()).Msg("No live session")
	}
	return a.Broker.CloseSession(ctx, a.Target)
}
