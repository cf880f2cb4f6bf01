package controller

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestTick(t *testing.T) {
	c, cfg, reg := newTestController(t)
	opsDir := cfg.OpsDir()

	writeSpec(t, opsDir, "create-billing-agent.md", `---
operation: create
agent: billing-agent
---
## CLAUDE.md
invoices
`)
	writeSpec(t, opsDir, "README.md", "not a spec\n")
	writeSpec(t, opsDir, "modify-warden.PENDING_APPROVAL.md", `---
operation: modify
agent: warden
---
`)

	p := NewPoller(c, opsDir, time.Minute, zap.NewNop())
	p.Tick()

	if def, _ := reg.GetAgent("billing-agent"); def == nil {
		t.Error("New spec should be applied on tick")
	}
	if _, err := os.Stat(filepath.Join(opsDir, "create-billing-agent.APPLIED.md")); err != nil {
		t.Errorf("Expected APPLIED rename: %v", err)
	}
	// Non-spec and pending files are untouched.
	if _, err := os.Stat(filepath.Join(opsDir, "README.md")); err != nil {
		t.Error("Non-spec files should be left alone")
	}
	if _, err := os.Stat(filepath.Join(opsDir, "modify-warden.PENDING_APPROVAL.md")); err != nil {
		t.Error("Pending files should wait for the operator")
	}

	// A second tick re-dispatches nothing.
	before := dirNames(t, opsDir)
	p.Tick()
	after := dirNames(t, opsDir)
	if len(before) != len(after) {
		t.Errorf("Second tick should be a no-op, dir went from %v to %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("Second tick should be a no-op, dir went from %v to %v", before, after)
			break
		}
	}
}

func TestTick_DuplicateCreateFails(t *testing.T) {
	c, cfg, _ := newTestController(t)
	opsDir := cfg.OpsDir()

	spec := `---
operation: create
agent: billing-agent
---
## CLAUDE.md
invoices
`
	writeSpec(t, opsDir, "create-billing-agent.md", spec)

	p := NewPoller(c, opsDir, time.Minute, zap.NewNop())
	p.Tick()

	// Resubmitting the same create is rejected, not silently absorbed.
	writeSpec(t, opsDir, "create-billing-agent-again.md", spec)
	p.Tick()

	if _, err := os.Stat(filepath.Join(opsDir, "create-billing-agent-again.FAILED.md")); err != nil {
		t.Errorf("Duplicate create should fail: %v", err)
	}
	if _, err := os.Stat(filepath.Join(opsDir, "create-billing-agent.APPLIED.md")); err != nil {
		t.Errorf("Original applied spec should be untouched: %v", err)
	}
}

func TestTick_MissingDirRecreated(t *testing.T) {
	c, cfg, _ := newTestController(t)
	opsDir := cfg.OpsDir()

	p := NewPoller(c, opsDir, time.Minute, zap.NewNop())
	p.Tick()

	if _, err := os.Stat(opsDir); err != nil {
		t.Errorf("Tick should recreate the watched directory: %v", err)
	}
}

func TestPollerStartStop(t *testing.T) {
	c, cfg, reg := newTestController(t)
	opsDir := cfg.OpsDir()

	writeSpec(t, opsDir, "create-billing-agent.md", `---
operation: create
agent: billing-agent
---
## CLAUDE.md
invoices
`)

	p := NewPoller(c, opsDir, 10*time.Millisecond, zap.NewNop())
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if def, _ := reg.GetAgent("billing-agent"); def != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()

	if def, _ := reg.GetAgent("billing-agent"); def == nil {
		t.Error("Running poller should have applied the spec")
	}
}
