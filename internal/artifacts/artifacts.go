// Package artifacts writes the documents consumed by the external dashboard.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteFile replaces path with data atomically: readers see either the old
// or the new content, never a partial write.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".jetdash-write-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting mode on %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// DashboardInfo tells the dashboard which node and network are in use.
type DashboardInfo struct {
	Host          string    `json:"host"`
	User          string    `json:"user"`
	Port          int       `json:"port"`
	Network       string    `json:"network"`
	Transport     string    `json:"transport"`
	LocalHostname string    `json:"local_hostname,omitempty"`
	LocalOS       string    `json:"local_os,omitempty"`
	LocalArch     string    `json:"local_arch,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// Writer persists poll results to fixed local paths.
type Writer struct {
	ResultPath string
	MetaPath   string
	InfoPath   string
}

// WritePayload overwrites the result and metadata documents. Each file is
// replaced atomically; the result is written first.
func (w *Writer) WritePayload(result, meta []byte) error {
	if err := WriteFile(w.ResultPath, result, 0644); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	if err := WriteFile(w.MetaPath, meta, 0644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// WriteInfo writes the dashboard info document.
func (w *Writer) WriteInfo(info DashboardInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling dashboard info: %w", err)
	}
	return WriteFile(w.InfoPath, append(data, '\n'), 0644)
}
