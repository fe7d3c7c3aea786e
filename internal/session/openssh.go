package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/rs/zerolog"

	"jetdash/internal/runner"
)

// OpenSSH keeps the session in an OpenSSH ControlMaster process whose control
// socket lives at <ControlDir>/<Target.ID()>.
type OpenSSH struct {
	run            runner.Runner
	controlDir     string
	knownHosts     string
	connectTimeout time.Duration
	extraArgs      []string
	log            zerolog.Logger
}

// OpenSSHOptions configures the OpenSSH transport.
type OpenSSHOptions struct {
	ControlDir     string
	KnownHosts     string
	ConnectTimeout time.Duration
	// ExtraArgs is split with shell quoting rules and passed to every ssh call.
	ExtraArgs string
}

// NewOpenSSH returns an OpenSSH transport.
func NewOpenSSH(r runner.Runner, opts OpenSSHOptions, log zerolog.Logger) (*OpenSSH, error) {
	extra, err := shlex.Split(opts.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh_extra_args: %w", err)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &OpenSSH{
		run:            r,
		controlDir:     opts.ControlDir,
		knownHosts:     opts.KnownHosts,
		connectTimeout: opts.ConnectTimeout,
		extraArgs:      extra,
		log:            log,
	}, nil
}

// Name implements Transport.
func (o *OpenSSH) Name() string { return "openssh" }

// ControlPath returns the control socket path for t.
func (o *OpenSSH) ControlPath(t Target) string {
	return filepath.Join(o.controlDir, t.ID())
}

func (o *OpenSSH) sshArgs(t Target, extra ...string) []string {
	args := []string{"-o", "ControlPath=" + o.ControlPath(t), "-p", strconv.Itoa(t.Port)}
	args = append(args, o.extraArgs...)
	args = append(args, extra...)
	return args
}

// Alive implements Transport with `ssh -O check`.
func (o *OpenSSH) Alive(ctx context.Context, t Target) bool {
	if _, err := os.Stat(o.ControlPath(t)); err != nil {
		return false
	}
	res, err := o.run.Run(ctx, "ssh", append(o.sshArgs(t, "-O", "check"), t.Destination())...)
	return err == nil && res.OK()
}

// Open implements Transport. The master forks to the background once
// authenticated and lingers for ttl after its last client disconnects.
func (o *OpenSSH) Open(ctx context.Context, t Target, ttl time.Duration) error {
	if err := os.MkdirAll(o.controlDir, 0700); err != nil {
		return fmt.Errorf("creating control directory %s: %w", o.controlDir, err)
	}
	opts := []string{
		"-M", "-N", "-f",
		"-o", "ControlMaster=yes",
		"-o", fmt.Sprintf("ControlPersist=%ds", int(ttl.Seconds())),
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(o.connectTimeout.Seconds())),
	}
	if o.knownHosts != "" {
		opts = append(opts, "-o", "UserKnownHostsFile="+o.knownHosts)
	}
	res, err := o.run.Run(ctx, "ssh", append(o.sshArgs(t, opts...), t.Destination())...)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("ssh master exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Close implements Transport with `ssh -O exit`.
func (o *OpenSSH) Close(ctx context.Context, t Target) error {
	if !o.Alive(ctx, t) {
		o.log.Debug().Str("target", t.String()).Msg("No control session to close")
		return nil
	}
	res, err := o.run.Run(ctx, "ssh", append(o.sshArgs(t, "-O", "exit"), t.Destination())...)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("ssh -O exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Exec implements Transport.
func (o *OpenSSH) Exec(ctx context.Context, t Target, command string) (runner.Result, error) {
	args := o.sshArgs(t, "-o", "ControlMaster=no", "-o", "BatchMode=yes")
	args = append(args, t.Destination(), command)
	return o.run.Run(ctx, "ssh", args...)
}

// Fetch implements Transport with scp over the control socket.
func (o *OpenSSH) Fetch(ctx context.Context, t Target, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", localPath, err)
	}
	args := []string{"-o", "ControlPath=" + o.ControlPath(t), "-o", "BatchMode=yes", "-P", strconv.Itoa(t.Port)}
	args = append(args, o.extraArgs...)
	args = append(args, t.Destination()+":"+remotePath, localPath)
	res, err := o.run.Run(ctx, "scp", args...)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("scp exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}
