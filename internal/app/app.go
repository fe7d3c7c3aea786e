// Package app wires the jetdash components from a loaded configuration.
package app

import (
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"jetdash/internal/artifacts"
	"jetdash/internal/batch"
	"jetdash/internal/poller"
	"jetdash/internal/runner"
	"jetdash/internal/session"
	"jetdash/internal/store"
	"jetdash/internal/sysinfo"
	"jetdash/internal/wifi"
	"jetdash/pkg/config"
)

// attachSettle is how long to wait after an association request before the
// address is checked again.
const attachSettle = 2 * time.Second

// App holds the components shared by the subcommands.
type App struct {
	Config    *config.Config
	Target    session.Target
	Platform  wifi.Platform
	Attacher  *wifi.Manager
	Transport session.Transport
	Broker    *session.Broker
	Executor  *batch.Executor
	Writer    *artifacts.Writer
	Local     *sysinfo.Local
	Log       zerolog.Logger
}

// New builds the component graph for the current platform.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	return build(cfg, runtime.GOOS, runner.NewExec(log), log)
}

func build(cfg *config.Config, goos string, r runner.Runner, log zerolog.Logger) (*App, error) {
	probeTimeout, err := cfg.Remote.ParseProbeTimeout()
	if err != nil {
		return nil, fmt.Errorf("parsing probe_timeout: %w", err)
	}
	retryDelay, err := cfg.Remote.ParseRetryDelay()
	if err != nil {
		return nil, fmt.Errorf("parsing retry_delay: %w", err)
	}

	transport, err := session.NewTransport(cfg.Remote, goos, r, log)
	if err != nil {
		return nil, err
	}

	platform := wifi.ForOS(goos, cfg.Interfaces, r, log)

	return &App{
		Config:    cfg,
		Target:    session.Target{User: cfg.Remote.User, Host: cfg.Remote.Host, Port: cfg.Remote.Port},
		Platform:  platform,
		Attacher:  wifi.NewManager(platform, cfg.Poll.AttachAttempts, attachSettle, log),
		Transport: transport,
		Broker: session.NewBroker(transport, session.Options{
			Attempts:     cfg.Remote.EstablishAttempts,
			ProbeTimeout: probeTimeout,
			RetryDelay:   retryDelay,
		}, log),
		Executor: batch.NewExecutor(cfg.Compare, log),
		Writer: &artifacts.Writer{
			ResultPath: cfg.Output.ResultPath,
			MetaPath:   cfg.Output.MetaPath,
			InfoPath:   cfg.Output.DashboardInfoPath,
		},
		Local: sysinfo.Collect(),
		Log:   log,
	}, nil
}

// History opens the cycle history store, or returns nil when no history
// database is configured.
func (a *App) History() (*store.Store, error) {
	if a.Config.Output.HistoryDB == "" {
		return nil, nil
	}
	return store.New(a.Config.Output.HistoryDB, a.Log)
}

// Controller builds the lifecycle controller. recorder may be nil.
func (a *App) Controller(recorder poller.Recorder) (*poller.Controller, error) {
	interval, err := a.Config.Poll.ParseInterval()
	if err != nil {
		return nil, fmt.Errorf("parsing interval: %w", err)
	}
	ttl, err := a.Config.Remote.ParseControlPersist()
	if err != nil {
		return nil, fmt.Errorf("parsing control_persist: %w", err)
	}
	retention, err := a.Config.Output.ParseHistoryRetention()
	if err != nil {
		return nil, fmt.Errorf("parsing history_retention: %w", err)
	}

	opts := poller.Options{
		Candidates:       wifi.Candidates(a.Config.Networks),
		Target:           a.Target,
		TTL:              ttl,
		Interval:         interval,
		ReestablishAfter: a.Config.Poll.Reestablish(),
		Retention:        retention,
		Local:            a.Local,
	}
	return poller.New(opts, a.Attacher, a.Broker, a.Executor, a.Writer, recorder, a.Log), nil
}

// LogStartup logs the detected local platform.
func (a *App) LogStartup() {
	a.Log.Info().
		Str("os", a.Local.OSName).
		Str("kernel", a.Local.Kernel).
		Str("arch", a.Local.Arch).
		Str("hostname", a.Local.Hostname).
		Str("platform", a.Platform.Name()).
		Str("transport", a.Transport.Name()).
		Msg("Detected OS")
}
