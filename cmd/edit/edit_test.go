package edit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"jetdash/pkg/config"
)

func TestEditorCommand(t *testing.T) {
	none := func(string) (string, error) { return "", errors.New("not found") }
	onlyNano := func(name string) (string, error) {
		if name == "nano" {
			return "/usr/bin/nano", nil
		}
		return "", errors.New("not found")
	}

	tests := []struct {
		name   string
		env    string
		look   func(string) (string, error)
		want   []string
		hasErr bool
	}{
		{"editor with args", `code --wait`, none, []string{"code", "--wait"}, false},
		{"quoted path", `"/Applications/Sublime Text/subl" -w`, none, []string{"/Applications/Sublime Text/subl", "-w"}, false},
		{"fallback", "", onlyNano, []string{"nano"}, false},
		{"nothing available", "", none, nil, true},
		{"unbalanced quotes", `"vim`, none, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := editorCommand(tt.env, tt.look)
			if (err != nil) != tt.hasErr {
				t.Fatalf("err: %v, wantErr %v", err, tt.hasErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("editor mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDefaultConfigTemplateLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(DefaultConfigTemplate), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if len(cfg.Networks) != 2 || cfg.Networks[0].Name != "overground_5G" {
		t.Errorf("networks: %+v", cfg.Networks)
	}
	if cfg.Poll.Reestablish() != 3 {
		t.Errorf("reestablish_after: got %d", cfg.Poll.Reestablish())
	}
}
