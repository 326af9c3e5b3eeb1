package app

import (
	"testing"
	"time"
)

func TestNewInvocation(t *testing.T) {
	tests := []struct {
		name    string
		command string
		now     time.Time
		wantID  string
	}{
		{
			name:    "utc start",
			command: "snapshot create",
			now:     time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC),
			wantID:  "20240615T143045Z",
		},
		{
			name:    "local time is normalized",
			command: "gc",
			now:     time.Date(2024, 6, 15, 16, 30, 45, 0, time.FixedZone("CEST", 2*60*60)),
			wantID:  "20240615T143045Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := NewInvocation(tt.command, tt.now)
			if inv.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", inv.ID, tt.wantID)
			}
			if inv.Command != tt.command {
				t.Errorf("Command = %q, want %q", inv.Command, tt.command)
			}
			if got := inv.Elapsed(tt.now.Add(3 * time.Second)); got != 3*time.Second {
				t.Errorf("Elapsed() = %v", got)
			}
		})
	}
}

func TestInvocation_Details(t *testing.T) {
	inv := NewInvocation("snapshot restore", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	extra := map[string]any{"files": 3}

	d := inv.Details(extra)
	if d["invocation"] != "20240101T000000Z" || d["command"] != "snapshot restore" || d["files"] != 3 {
		t.Errorf("Details() = %v", d)
	}
	if len(extra) != 1 {
		t.Error("Details() modified its argument")
	}

	if d := NewInvocation("", time.Now()).Details(nil); len(d) != 1 {
		t.Errorf("Details(nil) without command = %v", d)
	}
}
