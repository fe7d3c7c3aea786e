package check

import "testing"

func TestSessionNote(t *testing.T) {
	tests := []struct {
		transport, persist, want string
	}{
		{"native", "10m", "Session closes when jetdash exits"},
		{"openssh", "15m", "Session stays open for 15m of idle time"},
		{"openssh", "", "Session stays open for 10m of idle time"},
	}
	for _, tt := range tests {
		if got := sessionNote(tt.transport, tt.persist); got != tt.want {
			t.Errorf("sessionNote(%q, %q): got %q, want %q", tt.transport, tt.persist, got, tt.want)
		}
	}
}
