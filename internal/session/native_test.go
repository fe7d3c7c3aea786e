package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// startTestServer runs a minimal SSH server that answers exec requests with
// canned output and returns a target pointing at it.
func startTestServer(t *testing.T) Target {
	t.Helper()
	return startServer(t, true)
}

// startServer is startTestServer with control over global requests. When
// answerGlobal is false the server never replies to them, like a peer whose
// link dropped after the handshake.
func startServer(t *testing.T, answerGlobal bool) Target {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveTestConn(c, cfg, answerGlobal)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return Target{User: "sully", Host: host, Port: port}
}

func serveTestConn(c net.Conn, cfg *ssh.ServerConfig, answerGlobal bool) {
	sc, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	defer sc.Close()
	if answerGlobal {
		go ssh.DiscardRequests(reqs)
	}

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for r := range creqs {
				if r.Type != "exec" {
					r.Reply(false, nil)
					continue
				}
				var p struct{ Command string }
				ssh.Unmarshal(r.Payload, &p)
				r.Reply(true, nil)

				out, code := testCommand(p.Command)
				ch.Write([]byte(out))
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
				return
			}
		}()
	}
}

func testCommand(cmd string) (string, uint32) {
	switch {
	case cmd == "echo hi":
		return "hi\n", 0
	case strings.HasPrefix(cmd, "cat -- '/remote/result.json'"):
		return `{"ok":true}`, 0
	case strings.HasPrefix(cmd, "cat -- "):
		return "", 1
	default:
		return "", 2
	}
}

func newTestNative(t *testing.T, knownHosts string) *Native {
	t.Helper()
	return newTestNativeOpts(t, NativeOptions{KnownHosts: knownHosts})
}

func newTestNativeOpts(t *testing.T, opts NativeOptions) *Native {
	t.Helper()
	opts.ConnectTimeout = 5 * time.Second
	n, err := NewNative(opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	return n
}

func TestNative_Lifecycle(t *testing.T) {
	target := startTestServer(t)
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	n := newTestNative(t, knownHosts)
	ctx := context.Background()

	if n.Alive(ctx, target) {
		t.Fatal("alive before open")
	}
	if err := n.Open(ctx, target, time.Minute); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !n.Alive(ctx, target) {
		t.Fatal("not alive after open")
	}

	res, err := n.Exec(ctx, target, "echo hi")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Stdout != "hi\n" || res.ExitCode != 0 {
		t.Errorf("Exec result: %+v", res)
	}

	res, err = n.Exec(ctx, target, "unknown")
	if err != nil {
		t.Fatalf("Exec unknown: %v", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode: got %d, want 2", res.ExitCode)
	}

	data, err := os.ReadFile(knownHosts)
	if err != nil {
		t.Fatalf("read known_hosts: %v", err)
	}
	if !strings.Contains(string(data), "ssh-ed25519") {
		t.Errorf("host key not recorded: %q", data)
	}

	if err := n.Close(ctx, target); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(ctx, target); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if n.Alive(ctx, target) {
		t.Error("alive after close")
	}
}

func TestNative_Fetch(t *testing.T) {
	target := startTestServer(t)
	n := newTestNative(t, filepath.Join(t.TempDir(), "known_hosts"))
	ctx := context.Background()
	if err := n.Open(ctx, target, time.Minute); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer n.Close(ctx, target)

	local := filepath.Join(t.TempDir(), "result.json")
	if err := n.Fetch(ctx, target, "/remote/result.json", local); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("fetched: got %s", data)
	}

	if err := n.Fetch(ctx, target, "/remote/missing", local); err == nil {
		t.Error("expected error fetching missing file")
	}
}

func TestNative_IdleTTL(t *testing.T) {
	target := startTestServer(t)
	n := newTestNative(t, filepath.Join(t.TempDir(), "known_hosts"))
	ctx := context.Background()

	if err := n.Open(ctx, target, 50*time.Millisecond); err != nil {
		t.Fatalf("Open: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if n.Alive(ctx, target) {
		t.Error("session outlived its idle TTL")
	}
	if _, err := n.Exec(ctx, target, "echo hi"); err == nil {
		t.Error("expected Exec to fail without a session")
	}
}

func TestNative_HostKeyMismatch(t *testing.T) {
	target := startTestServer(t)
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")

	// Record a different key for the same address.
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	other, _ := ssh.NewSignerFromKey(priv)
	line := knownHostsLine(target, other.PublicKey())
	if err := os.WriteFile(knownHosts, []byte(line+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	n := newTestNative(t, knownHosts)
	if err := n.Open(context.Background(), target, time.Minute); err == nil {
		t.Fatal("expected host key mismatch to fail the handshake")
	}
}

func knownHostsLine(t Target, key ssh.PublicKey) string {
	return knownhosts.Line([]string{knownhosts.Normalize(t.Addr())}, key)
}

func TestNative_AliveHonoursContext(t *testing.T) {
	target := startServer(t, false)
	n := newTestNativeOpts(t, NativeOptions{
		KnownHosts:       filepath.Join(t.TempDir(), "known_hosts"),
		KeepaliveTimeout: time.Minute,
	})
	if err := n.Open(context.Background(), target, time.Minute); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	if n.Alive(ctx, target) {
		t.Fatal("unanswered keepalive reported alive")
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("Alive blocked %s past a 200ms context", took)
	}
	if n.get(target) != nil {
		t.Error("unresponsive session was not dropped")
	}
}

func TestNative_AliveKeepaliveTimeout(t *testing.T) {
	target := startServer(t, false)
	n := newTestNativeOpts(t, NativeOptions{
		KnownHosts:       filepath.Join(t.TempDir(), "known_hosts"),
		KeepaliveTimeout: 100 * time.Millisecond,
	})
	if err := n.Open(context.Background(), target, time.Minute); err != nil {
		t.Fatalf("Open: %v", err)
	}

	start := time.Now()
	if n.Alive(context.Background(), target) {
		t.Fatal("unanswered keepalive reported alive")
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("Alive blocked %s with a 100ms keepalive timeout", took)
	}
	if err := n.Close(context.Background(), target); err != nil {
		t.Errorf("Close after drop: %v", err)
	}
}
