// Package edit implements the jetdash edit command.
package edit

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/shlex"
)

// DefaultConfigTemplate is written when the config file does not exist yet.
const DefaultConfigTemplate = `# Candidate networks, tried in order.
[[network]]
  name            = "overground_5G"
  password        = "CHANGE_ME"
  expected_prefix = "192.168.1"

[[network]]
  name            = "Caren_5G"
  password        = "CHANGE_ME"
  expected_prefix = "192.168.0"

[interfaces]
  darwin      = "en0"
  windows     = "Wi-Fi"
  profile_dir = "~/.jetdash/wifi"

[remote]
  user               = "sully"
  host               = "192.168.1.50"
  port               = 22
  transport          = "auto"
  control_persist    = "10m"
  known_hosts        = "~/.jetdash/known_hosts"
  establish_attempts = 3

[compare]
  interpreter       = "python3"
  script            = "/home/sully/jet/compare.py"
  requirements      = "/home/sully/jet/requirements.yaml"
  meta              = "/home/sully/jet/meta.json"
  output            = "/home/sully/jet/comparison_output.json"
  accept_exit_codes = [0, 2]

[poll]
  interval          = "5s"
  attach_attempts   = 3
  reestablish_after = 3

[output]
  result_path         = "dashboard/comparison_output.json"
  meta_path           = "dashboard/meta.json"
  dashboard_info_path = "dashboard/dashboard_info.json"
  history_db          = "~/.jetdash/history.db"
  history_retention   = "24h"

[log]
  level = "info"
`

// EditConfig opens the configuration file in the system editor.
// If the file does not exist, it creates it with default values.
func EditConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Creating new config file at %s...\n", path)
		if err := os.WriteFile(path, []byte(DefaultConfigTemplate), 0600); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor, err := editorCommand(os.Getenv("EDITOR"), exec.LookPath)
	if err != nil {
		return err
	}

	cmd := exec.Command(editor[0], append(editor[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

// editorCommand splits $EDITOR (e.g. "code --wait") or falls back to the
// first of vi, nano or vim found in PATH.
func editorCommand(env string, lookPath func(string) (string, error)) ([]string, error) {
	if env != "" {
		args, err := shlex.Split(env)
		if err != nil {
			return nil, fmt.Errorf("parsing $EDITOR %q: %w", env, err)
		}
		if len(args) > 0 {
			return args, nil
		}
	}

	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := lookPath(e); err == nil {
			return []string{e}, nil
		}
	}
	return nil, fmt.Errorf("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")
}
