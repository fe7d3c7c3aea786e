package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"jetdash/internal/batch"
	"jetdash/internal/store"
)

func TestDisplayCycleTable(t *testing.T) {
	records := []store.CycleRecord{
		{
			StartedAt: time.Now().Add(-time.Minute),
			Duration:  1200 * time.Millisecond,
			OK:        true,
			ExitCode:  2,
			Summary:   batch.Summary{Ready: 4, Blocked: 1},
			Result:    make([]byte, 1500),
		},
		{
			StartedAt: time.Now().Add(-2 * time.Minute),
			Duration:  3 * time.Second,
			Error:     "remote command failed: exit 1: python3: can't open file",
		},
	}

	var buf bytes.Buffer
	displayCycleTable(&buf, records)
	out := buf.String()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines:\n%s", len(lines), out)
	}
	for _, want := range []string{"1 minute ago", "1.2s", "✓", "1.5 kB", "✗", "remote command failed: exit 1…"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("got %q", got)
	}
}

func TestTruncate_MultiByte(t *testing.T) {
	got := truncate("Café_5G ünreachable after 3 attempts", 10)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid UTF-8: %q", got)
	}
	if got != "Café_5G ü…" {
		t.Errorf("got %q", got)
	}
	if got := truncate("ünïcödé", 7); got != "ünïcödé" {
		t.Errorf("string at the limit changed: %q", got)
	}
}

func TestShowCycle(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	started := time.Now().Add(-time.Minute)
	if _, err := db.Append(started, time.Second, nil, errors.New("no session")); err != nil {
		t.Fatal(err)
	}
	payload := &batch.Payload{
		Result:   json.RawMessage(`{"summary":{"ready":3,"blocked":0}}`),
		Meta:     json.RawMessage(`{"host":"jet"}`),
		ExitCode: 2,
	}
	if _, err := db.Append(started.Add(5*time.Second), time.Second, payload, nil); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := showCycle(&buf, db, 1); err != nil {
		t.Fatalf("showCycle(1): %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# cycle 1", "exit=2", "# result", `"ready": 3`, "# metadata", `"host": "jet"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := showCycle(&buf, db, 2); err == nil {
		t.Error("expected an error for a failed cycle without documents")
	}
	if err := showCycle(&buf, db, 3); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found for an out-of-range cycle, got %v", err)
	}
}

func TestWriteJSON_Invalid(t *testing.T) {
	var buf bytes.Buffer
	writeJSON(&buf, []byte("not json"))
	if buf.String() != "not json\n" {
		t.Errorf("got %q", buf.String())
	}
}
