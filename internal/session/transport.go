package session

import (
	"fmt"

	"github.com/rs/zerolog"

	"jetdash/internal/runner"
	"jetdash/pkg/config"
)

// NewTransport builds the transport named by cfg.Transport. "auto" picks the
// OpenSSH control master on macOS and the native client elsewhere, since
// Windows OpenSSH has no ControlMaster support.
func NewTransport(cfg config.RemoteConfig, goos string, r runner.Runner, log zerolog.Logger) (Transport, error) {
	connectTimeout, err := cfg.ParseConnectTimeout()
	if err != nil {
		return nil, fmt.Errorf("parsing connect_timeout: %w", err)
	}
	probeTimeout, err := cfg.ParseProbeTimeout()
	if err != nil {
		return nil, fmt.Errorf("parsing probe_timeout: %w", err)
	}

	kind := cfg.Transport
	if kind == "auto" || kind == "" {
		kind = "native"
		if goos == "darwin" {
			kind = "openssh"
		}
	}

	switch kind {
	case "openssh":
		return NewOpenSSH(r, OpenSSHOptions{
			ControlDir:     cfg.ControlDir,
			KnownHosts:     cfg.KnownHosts,
			ConnectTimeout: connectTimeout,
			ExtraArgs:      cfg.SSHExtraArgs,
		}, log)
	case "native":
		return NewNative(NativeOptions{
			KnownHosts:       cfg.KnownHosts,
			IdentityFiles:    cfg.IdentityFiles,
			PasswordPrompt:   cfg.PasswordPrompt,
			ConnectTimeout:   connectTimeout,
			KeepaliveTimeout: probeTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
