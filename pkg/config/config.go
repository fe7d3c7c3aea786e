// Package config provides TOML (and YAML) configuration loading for jetdash.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
//
// A loaded Config is treated as immutable and handed to components by value.
type Config struct {
	Networks   []Network        `toml:"network" yaml:"network"`
	Interfaces InterfacesConfig `toml:"interfaces" yaml:"interfaces"`
	Remote     RemoteConfig     `toml:"remote" yaml:"remote"`
	Compare    CompareConfig    `toml:"compare" yaml:"compare"`
	Poll       PollConfig       `toml:"poll" yaml:"poll"`
	Output     OutputConfig     `toml:"output" yaml:"output"`
	Log        LogConfig        `toml:"log" yaml:"log"`
}

// Network is one candidate wireless network, tried in file order.
type Network struct {
	Name           string `toml:"name" yaml:"name"`
	Password       string `toml:"password" yaml:"password"`
	ExpectedPrefix string `toml:"expected_prefix" yaml:"expected_prefix"`
}

// InterfacesConfig names the wireless interface on each supported platform.
type InterfacesConfig struct {
	Darwin     string `toml:"darwin" yaml:"darwin"`
	Windows    string `toml:"windows" yaml:"windows"`
	ProfileDir string `toml:"profile_dir" yaml:"profile_dir"`
}

// RemoteConfig holds settings for the session to the compute node.
type RemoteConfig struct {
	User              string   `toml:"user" yaml:"user"`
	Host              string   `toml:"host" yaml:"host"`
	Port              int      `toml:"port" yaml:"port"`
	Transport         string   `toml:"transport" yaml:"transport"`
	ControlDir        string   `toml:"control_dir" yaml:"control_dir"`
	ControlPersist    string   `toml:"control_persist" yaml:"control_persist"`
	KnownHosts        string   `toml:"known_hosts" yaml:"known_hosts"`
	IdentityFiles     []string `toml:"identity_files" yaml:"identity_files"`
	PasswordPrompt    bool     `toml:"password_prompt" yaml:"password_prompt"`
	SSHExtraArgs      string   `toml:"ssh_extra_args" yaml:"ssh_extra_args"`
	ConnectTimeout    string   `toml:"connect_timeout" yaml:"connect_timeout"`
	ProbeTimeout      string   `toml:"probe_timeout" yaml:"probe_timeout"`
	EstablishAttempts int      `toml:"establish_attempts" yaml:"establish_attempts"`
	RetryDelay        string   `toml:"retry_delay" yaml:"retry_delay"`
}

// CompareConfig describes the remote readiness comparison tool.
type CompareConfig struct {
	Interpreter     string `toml:"interpreter" yaml:"interpreter"`
	Script          string `toml:"script" yaml:"script"`
	Requirements    string `toml:"requirements" yaml:"requirements"`
	Meta            string `toml:"meta" yaml:"meta"`
	Output          string `toml:"output" yaml:"output"`
	AcceptExitCodes []int  `toml:"accept_exit_codes" yaml:"accept_exit_codes"`
}

// PollConfig holds the poll loop budgets.
type PollConfig struct {
	Interval         string `toml:"interval" yaml:"interval"`
	AttachAttempts   int    `toml:"attach_attempts" yaml:"attach_attempts"`
	ReestablishAfter *int   `toml:"reestablish_after" yaml:"reestablish_after"`
}

// OutputConfig holds local artifact destinations.
type OutputConfig struct {
	ResultPath        string `toml:"result_path" yaml:"result_path"`
	MetaPath          string `toml:"meta_path" yaml:"meta_path"`
	DashboardInfoPath string `toml:"dashboard_info_path" yaml:"dashboard_info_path"`
	HistoryDB         string `toml:"history_db" yaml:"history_db"`
	HistoryRetention  string `toml:"history_retention" yaml:"history_retention"`
	LockPath          string `toml:"lock_path" yaml:"lock_path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// ParseInterval parses the poll interval string to a time.Duration.
func (p *PollConfig) ParseInterval() (time.Duration, error) {
	return parseDuration(p.Interval, 5*time.Second)
}

// Reestablish returns the consecutive-failure threshold for re-establishing
// the session. Zero disables re-establishment.
func (p *PollConfig) Reestablish() int {
	if p.ReestablishAfter == nil {
		return 3
	}
	return *p.ReestablishAfter
}

// ParseControlPersist parses the idle lifetime of the control session.
func (r *RemoteConfig) ParseControlPersist() (time.Duration, error) {
	return parseDuration(r.ControlPersist, 10*time.Minute)
}

// ParseConnectTimeout parses the SSH connect timeout.
func (r *RemoteConfig) ParseConnectTimeout() (time.Duration, error) {
	return parseDuration(r.ConnectTimeout, 10*time.Second)
}

// ParseProbeTimeout parses the reachability probe timeout.
func (r *RemoteConfig) ParseProbeTimeout() (time.Duration, error) {
	return parseDuration(r.ProbeTimeout, 3*time.Second)
}

// ParseRetryDelay parses the delay between establish attempts.
func (r *RemoteConfig) ParseRetryDelay() (time.Duration, error) {
	return parseDuration(r.RetryDelay, 2*time.Second)
}

// ParseHistoryRetention parses how long poll history is kept.
func (o *OutputConfig) ParseHistoryRetention() (time.Duration, error) {
	return parseDuration(o.HistoryRetention, 24*time.Hour)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// Load reads and parses a config file, applying defaults for unset values.
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields every command relies on.
func (cfg *Config) Validate() error {
	var errs []error
	if len(cfg.Networks) == 0 {
		errs = append(errs, errors.New("at least one [[network]] is required"))
	}
	for i, n := range cfg.Networks {
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("network %d: name is required", i+1))
		}
		if n.ExpectedPrefix == "" {
			errs = append(errs, fmt.Errorf("network %q: expected_prefix is required", n.Name))
		}
	}
	if cfg.Remote.Host == "" {
		errs = append(errs, errors.New("remote.host is required"))
	}
	if cfg.Remote.User == "" {
		errs = append(errs, errors.New("remote.user is required"))
	}
	if cfg.Remote.Port < 1 || cfg.Remote.Port > 65535 {
		errs = append(errs, fmt.Errorf("remote.port %d out of range", cfg.Remote.Port))
	}
	if cfg.Compare.Script == "" || cfg.Compare.Output == "" || cfg.Compare.Meta == "" {
		errs = append(errs, errors.New("compare.script, compare.output and compare.meta are required"))
	}
	switch cfg.Remote.Transport {
	case "auto", "openssh", "native":
	default:
		errs = append(errs, fmt.Errorf("remote.transport %q must be auto, openssh or native", cfg.Remote.Transport))
	}
	interval, ierr := cfg.Poll.ParseInterval()
	if ierr != nil {
		errs = append(errs, fmt.Errorf("poll.interval: %w", ierr))
	}
	persist, perr := cfg.Remote.ParseControlPersist()
	if perr != nil {
		errs = append(errs, fmt.Errorf("remote.control_persist: %w", perr))
	}
	// The session must outlive the gap between two cycles.
	if ierr == nil && perr == nil && persist <= interval {
		errs = append(errs, fmt.Errorf("remote.control_persist %s must be longer than poll.interval %s", persist, interval))
	}
	return errors.Join(errs...)
}

func (cfg *Config) expandPaths() {
	cfg.Interfaces.ProfileDir = ExpandPath(cfg.Interfaces.ProfileDir)
	cfg.Remote.ControlDir = ExpandPath(cfg.Remote.ControlDir)
	cfg.Remote.KnownHosts = ExpandPath(cfg.Remote.KnownHosts)
	for i, p := range cfg.Remote.IdentityFiles {
		cfg.Remote.IdentityFiles[i] = ExpandPath(p)
	}
	cfg.Output.ResultPath = ExpandPath(cfg.Output.ResultPath)
	cfg.Output.MetaPath = ExpandPath(cfg.Output.MetaPath)
	cfg.Output.DashboardInfoPath = ExpandPath(cfg.Output.DashboardInfoPath)
	cfg.Output.HistoryDB = ExpandPath(cfg.Output.HistoryDB)
	cfg.Output.LockPath = ExpandPath(cfg.Output.LockPath)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Interface defaults
	if cfg.Interfaces.Darwin == "" {
		cfg.Interfaces.Darwin = "en0"
	}
	if cfg.Interfaces.Windows == "" {
		cfg.Interfaces.Windows = "Wi-Fi"
	}
	if cfg.Interfaces.ProfileDir == "" {
		cfg.Interfaces.ProfileDir = "~/.jetdash/wifi"
	}

	// Remote defaults
	if cfg.Remote.Port == 0 {
		cfg.Remote.Port = 22
	}
	if cfg.Remote.Transport == "" {
		cfg.Remote.Transport = "auto"
	}
	if cfg.Remote.ControlDir == "" {
		cfg.Remote.ControlDir = "~/.jetdash/ctl"
	}
	if cfg.Remote.KnownHosts == "" {
		cfg.Remote.KnownHosts = "~/.jetdash/known_hosts"
	}
	if len(cfg.Remote.IdentityFiles) == 0 {
		cfg.Remote.IdentityFiles = []string{"~/.ssh/id_ed25519", "~/.ssh/id_rsa"}
	}
	if cfg.Remote.EstablishAttempts == 0 {
		cfg.Remote.EstablishAttempts = 3
	}

	// Compare defaults
	if cfg.Compare.Interpreter == "" {
		cfg.Compare.Interpreter = "python3"
	}
	if len(cfg.Compare.AcceptExitCodes) == 0 {
		cfg.Compare.AcceptExitCodes = []int{0, 2}
	}

	// Poll defaults
	if cfg.Poll.Interval == "" {
		cfg.Poll.Interval = "5s"
	}
	if cfg.Poll.AttachAttempts == 0 {
		cfg.Poll.AttachAttempts = 3
	}

	// Output defaults
	if cfg.Output.ResultPath == "" {
		cfg.Output.ResultPath = "dashboard/comparison_output.json"
	}
	if cfg.Output.MetaPath == "" {
		cfg.Output.MetaPath = "dashboard/meta.json"
	}
	if cfg.Output.DashboardInfoPath == "" {
		cfg.Output.DashboardInfoPath = "dashboard/dashboard_info.json"
	}
	if cfg.Output.HistoryRetention == "" {
		cfg.Output.HistoryRetention = "24h"
	}
	if cfg.Output.LockPath == "" {
		cfg.Output.LockPath = "~/.jetdash/jetdash.lock"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
