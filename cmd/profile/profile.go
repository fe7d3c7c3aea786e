// Package profile implements the jetdash profile command: write the Windows
// WLAN profile for a configured network.
package profile

import (
	"fmt"

	wlan "jetdash/internal/profile"
	"jetdash/pkg/config"
)

// Run writes the profile for ssid into the configured profile directory.
// An existing profile is replaced.
func Run(configPath, ssid string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	for _, n := range cfg.Networks {
		if n.Name != ssid {
			continue
		}
		path := wlan.Path(cfg.Interfaces.ProfileDir, n.Name)
		if err := wlan.Generate(n.Name, n.Password, path); err != nil {
			return err
		}
		fmt.Printf("Wrote profile for %s to %s\n", n.Name, path)
		return nil
	}
	return fmt.Errorf("network %q is not configured", ssid)
}
