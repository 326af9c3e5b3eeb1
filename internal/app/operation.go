package app

import (
	"maps"
	"time"
)

// Invocation identifies one run of a CLI command. Its ID tags every log line
// of the run and the audit entries the run writes.
type Invocation struct {
	ID        string
	Command   string
	StartedAt time.Time
}

// NewInvocation creates an invocation whose ID is its UTC start time.
func NewInvocation(command string, now time.Time) *Invocation {
	return &Invocation{
		ID:        now.UTC().Format("20060102T150405Z"),
		Command:   command,
		StartedAt: now,
	}
}

// Elapsed returns how long the invocation has been running.
func (inv *Invocation) Elapsed(now time.Time) time.Duration {
	return now.Sub(inv.StartedAt)
}

// Details returns a copy of extra tagged with the invocation.
func (inv *Invocation) Details(extra map[string]any) map[string]any {
	d := make(map[string]any, len(extra)+2)
	maps.Copy(d, extra)
	d["invocation"] = inv.ID
	if inv.Command != "" {
		d["command"] = inv.Command
	}
	return d
}
