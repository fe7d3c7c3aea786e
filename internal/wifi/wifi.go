// Package wifi ensures the local machine is attached to one of the candidate
// wireless networks, verifying attachment by the assigned address rather than
// by the nominal association status.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"jetdash/pkg/config"
)

var (
	// ErrUnsupportedPlatform is returned on any OS other than macOS and Windows.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrNotAttached means the expected address prefix never appeared.
	ErrNotAttached = errors.New("expected address prefix not observed")
	// ErrNoNetwork means every candidate network failed.
	ErrNoNetwork = errors.New("no candidate network could be attached")
)

// Candidate is one wireless network the manager may attach to.
type Candidate struct {
	Name           string
	Password       string
	ExpectedPrefix string
}

// Candidates converts the configured networks, preserving their order.
func Candidates(nets []config.Network) []Candidate {
	out := make([]Candidate, 0, len(nets))
	for _, n := range nets {
		out = append(out, Candidate{Name: n.Name, Password: n.Password, ExpectedPrefix: n.ExpectedPrefix})
	}
	return out
}

// Platform is the closed set of OS-specific network operations.
type Platform interface {
	// Name identifies the platform in logs.
	Name() string
	// CurrentAddress returns the IPv4 address currently assigned to the
	// wireless interface, or "" when none is assigned.
	CurrentAddress(ctx context.Context) (string, error)
	// Attach issues one association request for the candidate.
	Attach(ctx context.Context, c Candidate) error
}

// preparer is implemented by platforms that need a one-time setup step
// (such as registering a profile) before association requests.
type preparer interface {
	Prepare(ctx context.Context, c Candidate) error
}

// NetworkPrefix returns all but the last dotted component of addr.
func NetworkPrefix(addr string) string {
	addr = strings.TrimSpace(addr)
	i := strings.LastIndex(addr, ".")
	if i <= 0 {
		return ""
	}
	return addr[:i]
}

// MatchesPrefix reports whether addr lies in the expected network prefix.
func MatchesPrefix(addr, expected string) bool {
	p := NetworkPrefix(addr)
	return p != "" && p == strings.TrimSuffix(strings.TrimSpace(expected), ".")
}

// Manager drives attachment attempts against a Platform.
type Manager struct {
	platform Platform
	attempts int
	settle   time.Duration
	log      zerolog.Logger
}

// NewManager returns a Manager making at most attempts association requests
// per candidate. settle is how long to wait after each request before the
// address is re-checked.
func NewManager(p Platform, attempts int, settle time.Duration, log zerolog.Logger) *Manager {
	if attempts < 1 {
		attempts = 1
	}
	return &Manager{platform: p, attempts: attempts, settle: settle, log: log}
}

// Attached reports whether the platform currently holds an address in the
// candidate's expected prefix.
func (m *Manager) Attached(ctx context.Context, c Candidate) (bool, error) {
	addr, err := m.platform.CurrentAddress(ctx)
	if err != nil {
		return false, err
	}
	m.log.Debug().Str("ssid", c.Name).Str("address", addr).Str("expected_prefix", c.ExpectedPrefix).Msg("Checked attachment")
	return MatchesPrefix(addr, c.ExpectedPrefix), nil
}

// EnsureAttached attaches to c unless already attached. It never issues an
// association request when the address already matches.
func (m *Manager) EnsureAttached(ctx context.Context, c Candidate) error {
	ok, err := m.Attached(ctx, c)
	if err != nil {
		return fmt.Errorf("checking attachment to %s: %w", c.Name, err)
	}
	if ok {
		m.log.Info().Str("ssid", c.Name).Msg("Already connected")
		return nil
	}

	if p, ok := m.platform.(preparer); ok {
		if err := p.Prepare(ctx, c); err != nil {
			return fmt.Errorf("preparing %s: %w", c.Name, err)
		}
	}

	for i := 1; i <= m.attempts; i++ {
		m.log.Info().Str("ssid", c.Name).Msgf("Wi-Fi attempt %d/%d", i, m.attempts)
		if err := m.platform.Attach(ctx, c); err != nil {
			m.log.Warn().Err(err).Str("ssid", c.Name).Msg("Attach command failed")
		}
		if err := sleep(ctx, m.settle); err != nil {
			return err
		}
		ok, err := m.Attached(ctx, c)
		if err != nil {
			m.log.Warn().Err(err).Str("ssid", c.Name).Msg("Address check failed")
			continue
		}
		if ok {
			m.log.Info().Str("ssid", c.Name).Msg("Connected")
			return nil
		}
	}

	m.log.Error().Str("ssid", c.Name).Int("attempts", m.attempts).Msg("Failed to connect")
	return fmt.Errorf("%s after %d attempts: %w", c.Name, m.attempts, ErrNotAttached)
}

// AttachAny tries each candidate in order and returns the first that attaches.
// An unsupported platform aborts immediately.
func (m *Manager) AttachAny(ctx context.Context, candidates []Candidate) (Candidate, error) {
	var result *multierror.Error
	for _, c := range candidates {
		m.log.Info().Str("ssid", c.Name).Str("platform", m.platform.Name()).Msg("Connecting to Wi-Fi")
		err := m.EnsureAttached(ctx, c)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, ErrUnsupportedPlatform) || ctx.Err() != nil {
			return Candidate{}, err
		}
		result = multierror.Append(result, err)
	}
	if result == nil {
		return Candidate{}, ErrNoNetwork
	}
	return Candidate{}, fmt.Errorf("%w: %w", ErrNoNetwork, result.ErrorOrNil())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
