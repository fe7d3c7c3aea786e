// Package session establishes and maintains one reusable, authenticated
// transport session to the remote compute node per (user, host, port).
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"jetdash/internal/runner"
)

// ErrUnreachable means the remote endpoint did not accept a TCP connection
// within the probe timeout.
var ErrUnreachable = errors.New("endpoint unreachable")

// Target identifies the remote end of a session.
type Target struct {
	User string
	Host string
	Port int
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Destination returns user@host as understood by ssh and scp.
func (t Target) Destination() string {
	return t.User + "@" + t.Host
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Addr())
}

// ID returns a short deterministic identifier for the target, safe for use
// as a file name and short enough for a Unix socket path.
func (t Target) ID() string {
	sum := sha256.Sum256([]byte(t.String()))
	return "jd-" + hex.EncodeToString(sum[:8])
}

// Transport is one way of holding a multiplexed session open.
// Implementations must make Close a no-op for a target with no session.
type Transport interface {
	// Name identifies the transport in logs.
	Name() string
	// Alive reports whether a session for t exists and answers on its
	// control channel.
	Alive(ctx context.Context, t Target) bool
	// Open creates a session for t that stays up for ttl while idle.
	Open(ctx context.Context, t Target, ttl time.Duration) error
	// Close tears the session for t down.
	Close(ctx context.Context, t Target) error
	// Exec runs command remotely over the session.
	Exec(ctx context.Context, t Target, command string) (runner.Result, error)
	// Fetch copies remotePath on the node to localPath.
	Fetch(ctx context.Context, t Target, remotePath, localPath string) error
}

// ProbeFunc checks basic TCP reachability of addr.
type ProbeFunc func(ctx context.Context, addr string, timeout time.Duration) error

// Options tunes session establishment.
type Options struct {
	// Attempts bounds the probe+open sequence.
	Attempts int
	// ProbeTimeout bounds each reachability probe.
	ProbeTimeout time.Duration
	// RetryDelay separates attempts.
	RetryDelay time.Duration
	// Probe overrides the reachability probe; nil uses Reachable.
	Probe ProbeFunc
}

// Broker hands out session handles, creating a session only when no live one
// exists for the target.
type Broker struct {
	transport Transport
	opts      Options
	log       zerolog.Logger
}

// NewBroker returns a Broker over the given transport.
func NewBroker(t Transport, opts Options, log zerolog.Logger) *Broker {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.Probe == nil {
		opts.Probe = Reachable
	}
	return &Broker{transport: t, opts: opts, log: log}
}

// Handle is a live session usable by many operations.
type Handle struct {
	Target    Target
	transport Transport
}

// Exec runs command on the node over the session.
func (h *Handle) Exec(ctx context.Context, command string) (runner.Result, error) {
	return h.transport.Exec(ctx, h.Target, command)
}

// Fetch copies a remote file to a local path over the session.
func (h *Handle) Fetch(ctx context.Context, remotePath, localPath string) error {
	return h.transport.Fetch(ctx, h.Target, remotePath, localPath)
}

// Transport returns the transport name backing the handle.
func (h *Handle) Transport() string {
	return h.transport.Name()
}

// EnsureSession returns a handle for t, reusing a live session when one
// exists. Otherwise it probes reachability and opens a new session, retrying
// the pair up to the configured number of attempts.
func (b *Broker) EnsureSession(ctx context.Context, t Target, ttl time.Duration) (*Handle, error) {
	h := &Handle{Target: t, transport: b.transport}
	if b.transport.Alive(ctx, t) {
		b.log.Debug().Str("target", t.String()).Str("id", t.ID()).Msg("Reusing live session")
		return h, nil
	}

	attempt := 0
	op := func() error {
		attempt++
		b.log.Info().Str("target", t.String()).Msgf("SSH attempt %d/%d", attempt, b.opts.Attempts)
		if err := b.opts.Probe(ctx, t.Addr(), b.opts.ProbeTimeout); err != nil {
			return err
		}
		b.log.Info().Str("target", t.String()).Msg("SSH reachable, opening session")
		if err := b.transport.Open(ctx, t, ttl); err != nil {
			return fmt.Errorf("opening %s session: %w", b.transport.Name(), err)
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.opts.RetryDelay), uint64(b.opts.Attempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, bo, func(err error, next time.Duration) {
		b.log.Warn().Err(err).Dur("retry_in", next).Msg("Session attempt failed, retrying")
	})
	if err != nil {
		return nil, fmt.Errorf("establishing session to %s after %d attempts: %w", t, attempt, err)
	}

	b.log.Info().
		Str("target", t.String()).
		Str("id", t.ID()).
		Str("transport", b.transport.Name()).
		Dur("ttl", ttl).
		Msg("Session established")
	return h, nil
}

// Alive reports whether a live session exists for t.
func (b *Broker) Alive(ctx context.Context, t Target) bool {
	return b.transport.Alive(ctx, t)
}

// CloseSession tears down the session for t. Closing a target with no
// session is a no-op.
func (b *Broker) CloseSession(ctx context.Context, t Target) error {
	if err := b.transport.Close(ctx, t); err != nil {
		return fmt.Errorf("closing session to %s: %w", t, err)
	}
	b.log.Info().Str("target", t.String()).Msg("Session closed")
	return nil
}
