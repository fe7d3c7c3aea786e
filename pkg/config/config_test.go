package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const validTOML = `
[[network]]
  name            = "overground_5G"
  password        = "pw1"
  expected_prefix = "192.168.1"

[[network]]
  name            = "CAREN_5G"
  password        = "pw2"
  expected_prefix = "10.0.0"

[interfaces]
  darwin      = "en1"
  profile_dir = "/tmp/wifi"

[remote]
  user            = "sully"
  host            = "192.168.1.50"
  port            = 2222
  transport       = "openssh"
  control_persist = "15m"
  identity_files  = ["/tmp/id_ed25519"]
  ssh_extra_args  = "-o ServerAliveInterval=10"

[compare]
  script       = "/home/sully/readiness/config_compare.py"
  requirements = "/home/sully/controllers/controller_configs.json"
  meta         = "/home/sully/readiness/meta.json"
  output       = "/home/sully/readiness/comparison_output.txt"

[poll]
  interval          = "2s"
  reestablish_after = 0

[output]
  result_path = "/tmp/out/result.json"
  meta_path   = "/tmp/out/meta.json"

[log]
  level = "debug"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.toml", validTOML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	want := []Network{
		{Name: "overground_5G", Password: "pw1", ExpectedPrefix: "192.168.1"},
		{Name: "CAREN_5G", Password: "pw2", ExpectedPrefix: "10.0.0"},
	}
	if diff := cmp.Diff(want, cfg.Networks); diff != "" {
		t.Errorf("Networks mismatch (-want +got):\n%s", diff)
	}
	if cfg.Interfaces.Darwin != "en1" {
		t.Errorf("Interfaces.Darwin: got %s, want en1", cfg.Interfaces.Darwin)
	}
	if cfg.Remote.Port != 2222 {
		t.Errorf("Remote.Port: got %d, want 2222", cfg.Remote.Port)
	}
	if cfg.Remote.Transport != "openssh" {
		t.Errorf("Remote.Transport: got %s, want openssh", cfg.Remote.Transport)
	}
	if cfg.Poll.Reestablish() != 0 {
		t.Errorf("Reestablish: got %d, want 0", cfg.Poll.Reestablish())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %s, want debug", cfg.Log.Level)
	}
	d, err := cfg.Remote.ParseControlPersist()
	if err != nil || d.Minutes() != 15 {
		t.Errorf("ControlPersist: got %v (%v), want 15m", d, err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
[[network]]
  name = "lab"
  expected_prefix = "10.1.2"

[remote]
  user = "sully"
  host = "jetson.local"

[compare]
  script = "/r/compare.py"
  meta   = "/r/meta.json"
  output = "/r/out.json"
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Remote.Port != 22 {
		t.Errorf("default Port: got %d, want 22", cfg.Remote.Port)
	}
	if cfg.Remote.Transport != "auto" {
		t.Errorf("default Transport: got %s, want auto", cfg.Remote.Transport)
	}
	if cfg.Remote.EstablishAttempts != 3 {
		t.Errorf("default EstablishAttempts: got %d, want 3", cfg.Remote.EstablishAttempts)
	}
	if cfg.Poll.AttachAttempts != 3 {
		t.Errorf("default AttachAttempts: got %d, want 3", cfg.Poll.AttachAttempts)
	}
	if cfg.Poll.Reestablish() != 3 {
		t.Errorf("default Reestablish: got %d, want 3", cfg.Poll.Reestablish())
	}
	if diff := cmp.Diff([]int{0, 2}, cfg.Compare.AcceptExitCodes); diff != "" {
		t.Errorf("default AcceptExitCodes (-want +got):\n%s", diff)
	}
	if cfg.Interfaces.Windows != "Wi-Fi" {
		t.Errorf("default Windows interface: got %s, want Wi-Fi", cfg.Interfaces.Windows)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default LogLevel: got %s, want info", cfg.Log.Level)
	}
	if strings.HasPrefix(cfg.Remote.ControlDir, "~") {
		t.Errorf("ControlDir not expanded: %s", cfg.Remote.ControlDir)
	}
}

func TestLoad_YAML(t *testing.T) {
	content := `
network:
  - name: lab
    password: secret
    expected_prefix: 10.1.2
remote:
  user: sully
  host: 10.1.2.3
  transport: native
compare:
  script: /r/compare.py
  meta: /r/meta.json
  output: /r/out.json
`
	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Networks) != 1 || cfg.Networks[0].ExpectedPrefix != "10.1.2" {
		t.Errorf("Networks: got %+v", cfg.Networks)
	}
	if cfg.Remote.Transport != "native" {
		t.Errorf("Transport: got %s, want native", cfg.Remote.Transport)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "[log]\nlevel = \"info\"\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"network", "remote.host", "remote.user", "compare.script"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_BadTransport(t *testing.T) {
	content := strings.Replace(validTOML, `transport       = "openssh"`, `transport       = "telnet"`, 1)
	if _, err := Load(writeConfig(t, "config.toml", content)); err == nil {
		t.Error("expected error for unknown transport")
	}
}

func TestLoad_ControlPersistNotLongerThanInterval(t *testing.T) {
	tests := []struct {
		name, persist, interval, want string
	}{
		{"shorter", "2s", "5s", "must be longer than poll.interval"},
		{"equal", "5s", "5s", "must be longer than poll.interval"},
		{"unparseable", "forever", "5s", "remote.control_persist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := strings.Replace(validTOML, `control_persist = "15m"`, `control_persist = "`+tt.persist+`"`, 1)
			content = strings.Replace(content, `interval          = "2s"`, `interval          = "`+tt.interval+`"`, 1)
			_, err := Load(writeConfig(t, "config.toml", content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	content := strings.Replace(validTOML, `control_persist = "15m"`, `control_persist = "3s"`, 1)
	if _, err := Load(writeConfig(t, "config.toml", content)); err != nil {
		t.Errorf("3s persist over a 2s interval should load: %v", err)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "invalid [[[ toml"))
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestParseInterval(t *testing.T) {
	cfg := &PollConfig{Interval: "10s"}
	d, err := cfg.ParseInterval()
	if err != nil {
		t.Fatalf("parse interval: %v", err)
	}
	if d.Seconds() != 10 {
		t.Errorf("Interval: got %v, want 10s", d)
	}
}

func TestParseInterval_Default(t *testing.T) {
	cfg := &PollConfig{}
	d, err := cfg.ParseInterval()
	if err != nil {
		t.Fatalf("parse interval: %v", err)
	}
	if d.Seconds() != 5 {
		t.Errorf("Default interval: got %v, want 5s", d)
	}
}

func TestParseProbeTimeout_Invalid(t *testing.T) {
	cfg := &RemoteConfig{ProbeTimeout: "soon"}
	if _, err := cfg.ParseProbeTimeout(); err == nil {
		t.Error("expected error for invalid duration")
	}
}
