// Package poller drives the jetdash lifecycle: attach to a network, establish
// the node session, then run the readiness batch on a fixed interval until
// the context is cancelled.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"jetdash/internal/artifacts"
	"jetdash/internal/batch"
	"jetdash/internal/session"
	"jetdash/internal/store"
	"jetdash/internal/sysinfo"
	"jetdash/internal/wifi"
)

// ErrNoSession means the node session could not be established at startup.
var ErrNoSession = errors.New("no session to node")

// State is a lifecycle phase of the Controller.
type State int32

const (
	Startup State = iota
	Attaching
	EstablishingSession
	Polling
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Startup:
		return "STARTUP"
	case Attaching:
		return "ATTACHING"
	case EstablishingSession:
		return "ESTABLISHING_SESSION"
	case Polling:
		return "POLLING"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case Terminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Attacher brings the machine onto one of the candidate networks.
type Attacher interface {
	AttachAny(ctx context.Context, candidates []wifi.Candidate) (wifi.Candidate, error)
	EnsureAttached(ctx context.Context, c wifi.Candidate) error
}

// Sessions hands out and tears down the node session.
type Sessions interface {
	EnsureSession(ctx context.Context, t session.Target, ttl time.Duration) (*session.Handle, error)
	CloseSession(ctx context.Context, t session.Target) error
}

// Executor runs one readiness batch over a session.
type Executor interface {
	CompareAndFetch(ctx context.Context, s batch.Execer) (*batch.Payload, error)
}

// Sink persists the documents for the dashboard.
type Sink interface {
	WritePayload(result, meta []byte) error
	WriteInfo(info artifacts.DashboardInfo) error
}

// Recorder keeps a history of cycles.
type Recorder interface {
	Append(startedAt time.Time, took time.Duration, p *batch.Payload, cycleErr error) (*store.CycleRecord, error)
	Prune(retention time.Duration) (int, error)
}

// Options configures a Controller.
type Options struct {
	Candidates []wifi.Candidate
	Target     session.Target
	// TTL is how long an idle session persists.
	TTL      time.Duration
	Interval time.Duration
	// ReestablishAfter is the number of consecutive failed cycles that
	// triggers a re-attach and session check. Zero disables it.
	ReestablishAfter int
	// CycleTimeout bounds one batch. Cancellation of the run context does
	// not interrupt a batch in flight.
	CycleTimeout time.Duration
	// Retention bounds the recorded history. Zero keeps everything.
	Retention time.Duration
	Local     *sysinfo.Local
}

// Controller runs the lifecycle. It is not safe for concurrent Run calls.
type Controller struct {
	opts     Options
	attacher Attacher
	sessions Sessions
	executor Executor
	sink     Sink
	recorder Recorder
	state    atomic.Int32
	log      zerolog.Logger
}

// New returns a Controller. recorder may be nil.
func New(opts Options, a Attacher, s Sessions, e Executor, sink Sink, recorder Recorder, log zerolog.Logger) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = time.Minute
	}
	return &Controller{
		opts:     opts,
		attacher: a,
		sessions: s,
		executor: e,
		sink:     sink,
		recorder: recorder,
		log:      log,
	}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.log.Debug().Str("state", s.String()).Msg("Lifecycle transition")
}

// Run attaches, establishes the session and polls until ctx is cancelled.
// It returns nil after a clean shutdown and an error only when no network
// or no session could be obtained at startup.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(Startup)
	defer c.setState(Terminated)

	network, h, err := c.start(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return c.shutdown(ctx)
		}
		return err
	}

	c.writeInfo(network, h)
	c.setState(Polling)

	failures := 0
	for ctx.Err() == nil {
		if c.cycle(ctx, h) {
			failures = 0
		} else {
			failures++
		}

		if n := c.opts.ReestablishAfter; n > 0 && failures >= n {
			h = c.reestablish(ctx, network, h, failures)
			failures = 0
		}

		if err := sleep(ctx, c.opts.Interval); err != nil {
			break
		}
	}
	return c.shutdown(ctx)
}

// Once attaches, establishes the session and runs a single batch without
// closing the session. The session then lives as long as its transport
// keeps it: until the TTL for openssh, until the process exits for native.
func (c *Controller) Once(ctx context.Context) (*batch.Payload, error) {
	_, h, err := c.start(ctx)
	if err != nil {
		return nil, err
	}
	p, err := c.executor.CompareAndFetch(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := c.sink.WritePayload(p.Result, p.Meta); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Controller) start(ctx context.Context) (wifi.Candidate, *session.Handle, error) {
	c.setState(Attaching)
	network, err := c.attacher.AttachAny(ctx, c.opts.Candidates)
	if err != nil {
		c.log.Error().Err(err).Msg("Could not connect to any Wi-Fi network")
		return wifi.Candidate{}, nil, fmt.Errorf("attaching: %w", err)
	}

	c.setState(EstablishingSession)
	h, err := c.sessions.EnsureSession(ctx, c.opts.Target, c.opts.TTL)
	if err != nil {
		c.log.Error().Err(err).Str("target", c.opts.Target.String()).Msg("Could not establish SSH session")
		return wifi.Candidate{}, nil, fmt.Errorf("%w: %w", ErrNoSession, err)
	}
	return network, h, nil
}

func (c *Controller) writeInfo(network wifi.Candidate, h *session.Handle) {
	info := artifacts.DashboardInfo{
		Host:      c.opts.Target.Host,
		User:      c.opts.Target.User,
		Port:      c.opts.Target.Port,
		Network:   network.Name,
		Transport: h.Transport(),
		StartedAt: time.Now().UTC(),
	}
	if c.opts.Local != nil {
		info.LocalHostname = c.opts.Local.Hostname
		info.LocalOS = c.opts.Local.OSName
		info.LocalArch = c.opts.Local.Arch
	}
	if err := c.sink.WriteInfo(info); err != nil {
		c.log.Warn().Err(err).Msg("Failed to write dashboard info")
	}
}

// cycle runs one batch and persists its documents. It reports success.
func (c *Controller) cycle(ctx context.Context, h *session.Handle) bool {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CycleTimeout)
	defer cancel()

	started := time.Now()
	p, err := c.executor.CompareAndFetch(cctx, h)
	if err == nil {
		err = c.sink.WritePayload(p.Result, p.Meta)
	}
	took := time.Since(started)
	c.record(started, took, p, err)

	if err != nil {
		c.log.Error().Err(err).Dur("took", took).Msg("Remote command failed")
		return false
	}

	s := p.Summary()
	c.log.Info().
		Int("ready", s.Ready).
		Int("blocked", s.Blocked).
		Int("unknown", s.Unknown).
		Int("exit_code", p.ExitCode).
		Str("size", humanize.Bytes(uint64(len(p.Result)+len(p.Meta)))).
		Dur("took", took).
		Msg("Dashboard updated")
	return true
}

func (c *Controller) record(started time.Time, took time.Duration, p *batch.Payload, cycleErr error) {
	if c.recorder == nil {
		return
	}
	if _, err := c.recorder.Append(started, took, p, cycleErr); err != nil {
		c.log.Warn().Err(err).Msg("Failed to record cycle")
		return
	}
	if _, err := c.recorder.Prune(c.opts.Retention); err != nil {
		c.log.Warn().Err(err).Msg("Failed to prune history")
	}
}

// reestablish re-verifies attachment and the session after repeated
// failures. Errors are logged; polling continues with the best handle known.
func (c *Controller) reestablish(ctx context.Context, network wifi.Candidate, h *session.Handle, failures int) *session.Handle {
	c.log.Warn().Int("consecutive_failures", failures).Msg("Re-establishing connection")

	if err := c.attacher.EnsureAttached(ctx, network); err != nil {
		c.log.Error().Err(err).Str("ssid", network.Name).Msg("Wi-Fi re-check failed")
		return h
	}
	nh, err := c.sessions.EnsureSession(ctx, c.opts.Target, c.opts.TTL)
	if err != nil {
		c.log.Error().Err(err).Msg("Session re-establishment failed")
		return h
	}
	return nh
}

func (c *Controller) shutdown(ctx context.Context) error {
	c.setState(ShuttingDown)
	c.log.Info().Msg("Shutting down, closing SSH session")

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.sessions.CloseSession(cctx, c.opts.Target); err != nil {
		c.log.Warn().Err(err).Msg("Failed to close session")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
