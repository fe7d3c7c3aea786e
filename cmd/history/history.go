// Package history implements the jetdash history command.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"jetdash/internal/store"
	"jetdash/pkg/config"
	"jetdash/pkg/logger"
)

// Run prints the most recent limit cycles from the history database. When
// show is positive it instead prints the stored documents of the show-th
// most recent cycle.
func Run(configPath string, limit, show int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level)

	if cfg.Output.HistoryDB == "" {
		return fmt.Errorf("history_db is not set in [output]")
	}
	if _, err := os.Stat(cfg.Output.HistoryDB); err != nil {
		return fmt.Errorf("no history at %s: %w", cfg.Output.HistoryDB, err)
	}

	db, err := store.New(cfg.Output.HistoryDB, log)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer db.Close()

	if show > 0 {
		return showCycle(os.Stdout, db, show)
	}

	records, err := db.List(limit)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No cycles recorded yet. Is 'jetdash run' running with history_db set?")
		return nil
	}

	fmt.Printf("\n  Recent cycles (%d shown)\n\n", len(records))
	displayCycleTable(os.Stdout, records)
	fmt.Println()
	return nil
}

// showCycle prints the result and metadata documents of the n-th most
// recent cycle, numbered as in the table.
func showCycle(w io.Writer, db *store.Store, n int) error {
	records, err := db.List(n)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	if len(records) < n {
		return fmt.Errorf("cycle %d not found (%d recorded)", n, len(records))
	}
	r := records[n-1]

	result, meta, err := db.Documents(&r)
	if err != nil {
		return fmt.Errorf("cycle %d (%s): %w", n, r.StartedAt.Format(time.RFC3339), err)
	}

	fmt.Fprintf(w, "# cycle %d  id=%s  started=%s  exit=%d\n",
		n, r.ID, r.StartedAt.Format(time.RFC3339), r.ExitCode)
	fmt.Fprintln(w, "# result")
	writeJSON(w, result)
	fmt.Fprintln(w, "# metadata")
	writeJSON(w, meta)
	return nil
}

func writeJSON(w io.Writer, doc []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		w.Write(doc)
		fmt.Fprintln(w)
		return
	}
	buf.WriteByte('\n')
	buf.WriteTo(w)
}

func displayCycleTable(w io.Writer, records []store.CycleRecord) {
	fmt.Fprintf(w, "  %-4s %-16s %-8s %-4s %-6s %-8s %-8s %-8s %-30s\n",
		"#", "Started", "Took", "OK", "Exit", "Ready", "Blocked", "Size", "Error")
	fmt.Fprintf(w, "  %s %s %s %s %s %s %s %s %s\n",
		strings.Repeat("─", 4),
		strings.Repeat("─", 16),
		strings.Repeat("─", 8),
		strings.Repeat("─", 4),
		strings.Repeat("─", 6),
		strings.Repeat("─", 8),
		strings.Repeat("─", 8),
		strings.Repeat("─", 8),
		strings.Repeat("─", 30))

	for i, r := range records {
		status := "✗"
		if r.OK {
			status = "✓"
		}

		fmt.Fprintf(w, "  %-4d %-16s %-8s %-4s %-6d %-8d %-8d %-8s %-30s\n",
			i+1,
			humanize.Time(r.StartedAt),
			r.Duration.Round(10*time.Millisecond).String(),
			status,
			r.ExitCode,
			r.Summary.Ready,
			r.Summary.Blocked,
			humanize.Bytes(uint64(r.Size())),
			truncate(r.Error, 30),
		)
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}
