package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/net/proxy"
	"golang.org/x/term"

	"jetdash/internal/artifacts"
	"jetdash/internal/runner"
)

// Native holds the session as an in-process SSH client. Every Exec and Fetch
// opens a new channel on the same connection, so authentication happens once.
type Native struct {
	mu      sync.Mutex
	clients map[string]*nativeConn

	config  func(user string) *ssh.ClientConfig
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	timeout time.Duration
	// keepalive bounds one liveness check.
	keepalive time.Duration
	log       zerolog.Logger
}

type nativeConn struct {
	client *ssh.Client
	idle   *time.Timer
	ttl    time.Duration
}

// NativeOptions configures the native transport.
type NativeOptions struct {
	KnownHosts     string
	IdentityFiles  []string
	PasswordPrompt bool
	ConnectTimeout time.Duration
	// KeepaliveTimeout bounds the liveness check. Defaults to 3s.
	KeepaliveTimeout time.Duration
}

// NewNative returns a native transport. Authentication uses the SSH agent
// (when SSH_AUTH_SOCK is set), then the identity files, then an interactive
// password prompt if enabled and stdin is a terminal.
func NewNative(opts NativeOptions, log zerolog.Logger) (*Native, error) {
	hostKey, err := HostKeyCallback(opts.KnownHosts, log)
	if err != nil {
		return nil, err
	}
	auth := authMethods(opts, log)
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.KeepaliveTimeout <= 0 {
		opts.KeepaliveTimeout = 3 * time.Second
	}
	return &Native{
		clients: make(map[string]*nativeConn),
		config: func(user string) *ssh.ClientConfig {
			return &ssh.ClientConfig{
				User:            user,
				Auth:            auth,
				HostKeyCallback: hostKey,
				Timeout:         opts.ConnectTimeout,
			}
		},
		dial:      proxy.Dial,
		timeout:   opts.ConnectTimeout,
		keepalive: opts.KeepaliveTimeout,
		log:       log,
	}, nil
}

func authMethods(opts NativeOptions, log zerolog.Logger) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			log.Debug().Err(err).Msg("SSH agent not reachable")
		}
	}

	var signers []ssh.Signer
	for _, path := range opts.IdentityFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping identity file")
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if opts.PasswordPrompt && term.IsTerminal(int(os.Stdin.Fd())) {
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			fmt.Fprint(os.Stderr, "SSH password: ")
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			return string(pw), err
		}))
	}
	return methods
}

// Name implements Transport.
func (n *Native) Name() string { return "native" }

func (n *Native) get(t Target) *nativeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients[t.ID()]
}

// Alive implements Transport with a keepalive@openssh.org global request.
// A peer that does not answer within the keepalive timeout, or before ctx
// ends, is treated as dead and its client is dropped.
func (n *Native) Alive(ctx context.Context, t Target) bool {
	c := n.get(t)
	if c == nil {
		return false
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := c.client.SendRequest("keepalive@openssh.org", true, nil)
		done <- err
	}()

	timer := time.NewTimer(n.keepalive)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = fmt.Errorf("no keepalive reply within %s", n.keepalive)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		n.log.Debug().Err(err).Str("target", t.String()).Msg("Session failed keepalive, dropping it")
		// Closing the client also unblocks the pending request.
		n.drop(t.ID(), c)
		return false
	}
	return true
}

// Open implements Transport. The client is closed after ttl without use.
func (n *Native) Open(ctx context.Context, t Target, ttl time.Duration) error {
	dctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	conn, err := n.dial(dctx, "tcp", t.Addr())
	if err != nil {
		return fmt.Errorf("dialing %s: %w", t.Addr(), err)
	}
	if deadline, ok := dctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, t.Addr(), n.config(t.User))
	if err != nil {
		conn.Close()
		return fmt.Errorf("SSH handshake with %s: %w", t.Addr(), err)
	}
	conn.SetDeadline(time.Time{})

	c := &nativeConn{client: ssh.NewClient(cc, chans, reqs), ttl: ttl}
	id := t.ID()
	c.idle = time.AfterFunc(ttl, func() {
		n.log.Info().Str("target", t.String()).Dur("ttl", ttl).Msg("Session idle, closing")
		n.drop(id, c)
	})

	n.mu.Lock()
	old := n.clients[id]
	n.clients[id] = c
	n.mu.Unlock()
	if old != nil {
		old.idle.Stop()
		old.client.Close()
	}
	return nil
}

func (n *Native) drop(id string, c *nativeConn) {
	n.mu.Lock()
	if n.clients[id] == c {
		delete(n.clients, id)
	}
	n.mu.Unlock()
	c.idle.Stop()
	c.client.Close()
}

// Close implements Transport.
func (n *Native) Close(_ context.Context, t Target) error {
	c := n.get(t)
	if c == nil {
		return nil
	}
	n.drop(t.ID(), c)
	return nil
}

func (n *Native) use(t Target) (*nativeConn, error) {
	c := n.get(t)
	if c == nil {
		return nil, fmt.Errorf("no session for %s", t)
	}
	c.idle.Reset(c.ttl)
	return c, nil
}

// Exec implements Transport.
func (n *Native) Exec(ctx context.Context, t Target, command string) (runner.Result, error) {
	c, err := n.use(t)
	if err != nil {
		return runner.Result{}, err
	}
	s, err := c.client.NewSession()
	if err != nil {
		return runner.Result{}, fmt.Errorf("opening channel: %w", err)
	}
	defer s.Close()

	var stdout, stderr bytes.Buffer
	s.Stdout = &stdout
	s.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- s.Run(command) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		// Closing the channel unblocks Run; its output is discarded.
		s.Close()
		return runner.Result{}, fmt.Errorf("running remote command: %w", ctx.Err())
	}
	res := runner.Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	default:
		return res, fmt.Errorf("running remote command: %w", err)
	}
}

// Fetch implements Transport by streaming the file over a channel.
func (n *Native) Fetch(ctx context.Context, t Target, remotePath, localPath string) error {
	res, err := n.Exec(ctx, t, "cat -- "+shQuote(remotePath))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("reading %s: exit %d: %s", remotePath, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return artifacts.WriteFile(localPath, []byte(res.Stdout), 0644)
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
