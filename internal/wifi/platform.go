package wifi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"jetdash/internal/profile"
	"jetdash/internal/runner"
	"jetdash/pkg/config"
)

// ForOS returns the Platform for goos. Only darwin and windows are supported;
// anything else yields a platform whose every operation fails with
// ErrUnsupportedPlatform.
func ForOS(goos string, ifaces config.InterfacesConfig, r runner.Runner, log zerolog.Logger) Platform {
	switch goos {
	case "darwin":
		return &Darwin{Interface: ifaces.Darwin, run: r}
	case "windows":
		return &Windows{Interface: ifaces.Windows, ProfileDir: ifaces.ProfileDir, run: r, log: log, generate: profile.Generate}
	default:
		return Unsupported{OS: goos}
	}
}

// Darwin attaches with networksetup and reads the address with ipconfig.
type Darwin struct {
	Interface string
	run       runner.Runner
}

// Name implements Platform.
func (d *Darwin) Name() string { return "macOS" }

// CurrentAddress implements Platform.
func (d *Darwin) CurrentAddress(ctx context.Context) (string, error) {
	res, err := d.run.Run(ctx, "ipconfig", "getifaddr", d.Interface)
	if err != nil {
		return "", err
	}
	// ipconfig exits non-zero when the interface has no address.
	if !res.OK() {
		return "", nil
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Attach implements Platform.
func (d *Darwin) Attach(ctx context.Context, c Candidate) error {
	res, err := d.run.Run(ctx, "networksetup", "-setairportnetwork", d.Interface, c.Name, c.Password)
	if err != nil {
		return err
	}
	// networksetup reports association errors on stdout with exit status 0.
	if out := strings.TrimSpace(res.Stdout + res.Stderr); !res.OK() || strings.Contains(out, "Error") || strings.Contains(out, "Could not") {
		return fmt.Errorf("networksetup exit %d: %s", res.ExitCode, out)
	}
	return nil
}

// Windows attaches with netsh and needs a registered WLAN profile first.
type Windows struct {
	Interface  string
	ProfileDir string
	run        runner.Runner
	log        zerolog.Logger
	generate   func(ssid, password, path string) error
}

// Name implements Platform.
func (w *Windows) Name() string { return "Windows" }

// CurrentAddress implements Platform.
func (w *Windows) CurrentAddress(ctx context.Context) (string, error) {
	res, err := w.run.Run(ctx, "netsh", "interface", "ip", "show", "address", w.Interface)
	if err != nil {
		return "", err
	}
	return parseNetshAddress(res.Stdout), nil
}

// parseNetshAddress returns the value of the first "IP Address" line.
func parseNetshAddress(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "IP Address") {
			continue
		}
		if _, v, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Prepare generates the profile if missing and registers it with netsh.
func (w *Windows) Prepare(ctx context.Context, c Candidate) error {
	path := profile.Path(w.ProfileDir, c.Name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		w.log.Warn().Str("path", path).Msg("Wi-Fi profile not found, generating")
		if err := w.generate(c.Name, c.Password, path); err != nil {
			return fmt.Errorf("generating profile: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("checking profile %s: %w", path, err)
	}

	res, err := w.run.Run(ctx, "netsh", "wlan", "add", "profile", "filename="+path)
	if err != nil {
		return err
	}
	if !res.OK() {
		w.log.Warn().Int("exit_code", res.ExitCode).Str("output", strings.TrimSpace(res.Stdout)).Msg("netsh add profile failed")
	}
	return nil
}

// Attach implements Platform.
func (w *Windows) Attach(ctx context.Context, c Candidate) error {
	res, err := w.run.Run(ctx, "netsh", "wlan", "connect", "name="+c.Name)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("netsh wlan connect exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stdout))
	}
	return nil
}

// Unsupported is the platform for every OS without a network backend.
type Unsupported struct {
	OS string
}

// Name implements Platform.
func (u Unsupported) Name() string { return u.OS }

// CurrentAddress implements Platform.
func (u Unsupported) CurrentAddress(context.Context) (string, error) {
	return "", fmt.Errorf("%s: %w", u.OS, ErrUnsupportedPlatform)
}

// Attach implements Platform.
func (u Unsupported) Attach(context.Context, Candidate) error {
	return fmt.Errorf("%s: %w", u.OS, ErrUnsupportedPlatform)
}
