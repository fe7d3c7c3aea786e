package runner

import (
	"context"
	"os/exec"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func TestExec_CapturesOutputAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r := NewExec(zerolog.Nop())
	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2; exit 3")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode: got %d, want 3", res.ExitCode)
	}
	if res.Stdout != "out\n" {
		t.Errorf("Stdout: got %q, want %q", res.Stdout, "out\n")
	}
	if res.Stderr != "err\n" {
		t.Errorf("Stderr: got %q, want %q", res.Stderr, "err\n")
	}
	if res.OK() {
		t.Error("expected OK() to be false for exit 3")
	}
}

func TestExec_MissingBinary(t *testing.T) {
	r := NewExec(zerolog.Nop())
	if _, err := r.Run(context.Background(), "jetdash-definitely-not-a-command"); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestRedact(t *testing.T) {
	in := []string{"-setairportnetwork", "en0", "lab", "hunter2"}
	got := redact(in)
	want := []string{"-setairportnetwork", "en0", "lab", "******"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("redact mismatch (-want +got):\n%s", diff)
	}
	if in[3] != "hunter2" {
		t.Error("redact modified its input")
	}
}

func TestFake_Count(t *testing.T) {
	f := &Fake{}
	f.Run(context.Background(), "ssh", "-O", "check", "u@h")
	f.Run(context.Background(), "ssh", "-O", "exit", "u@h")
	f.Run(context.Background(), "scp", "u@h:/a", "/b")

	if n := f.Count("ssh", "-O"); n != 2 {
		t.Errorf("Count(ssh -O): got %d, want 2", n)
	}
	if n := f.Count("check"); n != 1 {
		t.Errorf("Count(check): got %d, want 1", n)
	}
	if got := f.Calls[2].Line(); got != "scp u@h:/a /b" {
		t.Errorf("Line: got %q", got)
	}
}
