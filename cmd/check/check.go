// Package check implements the jetdash check command: one attach, connect and
// batch. An openssh control session stays up for control_persist after the
// command exits; a native session ends with the process.
package check

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jetdash/internal/app"
	"jetdash/pkg/config"
	"jetdash/pkg/logger"
)

// Run performs a single readiness check and prints the summary.
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
	a.LogStartup()

	controller, err := a.Controller(nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := controller.Once(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("transport", a.Transport.Name()).Msg(sessionNote(a.Transport.Name(), cfg.Remote.ControlPersist))

	s := p.Summary()
	timestamp := s.Timestamp
	if timestamp == "" {
		timestamp = "n/a"
	}
	fmt.Printf("\n  Local summary (%s)\n\n", cfg.Output.ResultPath)
	fmt.Printf("  Ready: %d  |  Blocked: %d  |  Unknown: %d\n", s.Ready, s.Blocked, s.Unknown)
	fmt.Printf("  Timestamp: %s\n\n", timestamp)
	return nil
}

// sessionNote describes what happens to the session once check returns.
func sessionNote(transport, persist string) string {
	if transport == "native" {
		return "Session closes when jetdash exits"
	}
	if persist == "" {
		persist = "10m"
	}
	return fmt.Sprintf("Session stays open for %s of idle time", persist)
}
