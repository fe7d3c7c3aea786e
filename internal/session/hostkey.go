package session

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyCallback verifies node host keys against knownHostsPath, trusting
// and recording a key the first time a host is seen. A changed key for a
// known host is rejected. An empty path disables verification.
func HostKeyCallback(knownHostsPath string, log zerolog.Logger) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		log.Warn().Msg("No known_hosts configured, host keys are not verified")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
		return nil, fmt.Errorf("creating known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(knownHostsPath, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating known_hosts file: %w", err)
	}
	f.Close()

	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		mu.Lock()
		defer mu.Unlock()

		// Reload every time so keys recorded earlier in this process count.
		check, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return fmt.Errorf("loading known_hosts: %w", err)
		}
		err = check(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return err
		}

		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
		out, err := os.OpenFile(knownHostsPath, os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("opening known_hosts for writing: %w", err)
		}
		defer out.Close()
		if _, err := fmt.Fprintln(out, line); err != nil {
			return fmt.Errorf("recording host key: %w", err)
		}
		log.Info().
			Str("host", hostname).
			Str("fingerprint", ssh.FingerprintSHA256(key)).
			Msg("Trusted new host key")
		return nil
	}, nil
}
