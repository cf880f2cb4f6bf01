package controller

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/mounts"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/schedule"
	"github.com/wardenhq/warden/internal/secrets"
)

func newTestController(t *testing.T) (*Controller, *config.Config, *registry.Registry) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.RootDir = t.TempDir()
	cfg.DBPath = filepath.Join(cfg.RootDir, ".state", "warden.db")

	reg, err := registry.New(cfg.DBPath)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	store := secrets.MapStore{
		"STRIPE_PROD":       "sk-prod-123",
		"ANTHROPIC_API_KEY": "ak-456",
	}
	c := New(cfg, reg, store, schedule.NewCron(time.UTC), audit.NewWriter(reg), zap.NewNop())
	return c, cfg, reg
}

func createOp(agent, body string) *models.SpecOp {
	return &models.SpecOp{Operation: models.OpCreate, Agent: agent, Body: body}
}

// docOfLines builds an instruction section body of exactly n lines.
func docOfLines(n int) string {
	return strings.TrimSuffix(strings.Repeat("instruction line\n", n), "\n")
}

func readSettings(t *testing.T, cfg *config.Config, folder string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.RootDir, "sessions", folder, "settings.json"))
	if err != nil {
		t.Fatalf("Failed to read settings: %v", err)
	}
	var bundle struct {
		Env map[string]string `json:"env"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		t.Fatalf("Failed to parse settings: %v", err)
	}
	return bundle.Env
}

func TestCreate(t *testing.T) {
	c, cfg, reg := newTestController(t)

	op := createOp("billing-agent", `## CLAUDE.md
You are the billing agent.
Reconcile invoices daily.

## API Keys
- key: STRIPE_KEY
  value: secret:STRIPE_PROD
- key: ANTHROPIC_API_KEY
- key: REGION
  value: us-east-1

## Scheduled Tasks
- cron: 0 9 * * *
  prompt: send the daily invoice summary
`)
	op.Model = "sonnet"

	if err := c.Create(op); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Instruction document written.
	doc, err := os.ReadFile(filepath.Join(cfg.RootDir, "agents", "billing-agent", "CLAUDE.md"))
	if err != nil {
		t.Fatalf("Instruction document missing: %v", err)
	}
	if string(doc) != "You are the billing agent.\nReconcile invoices daily.\n" {
		t.Errorf("Unexpected instruction document: %q", string(doc))
	}

	// Partition directories created.
	for _, dir := range []string{
		"tasks/billing-agent/inbox",
		"tasks/billing-agent/active",
		"tasks/billing-agent/archive",
		"results/billing-agent/inbox",
		"results/billing-agent/archive",
		"knowledge/billing-agent/archive",
	} {
		if _, err := os.Stat(filepath.Join(cfg.RootDir, dir)); err != nil {
			t.Errorf("Partition %s missing: %v", dir, err)
		}
	}

	// Registry entry with resolved model and default mounts.
	def, err := reg.GetAgent("billing-agent")
	if err != nil || def == nil {
		t.Fatalf("Agent not registered: %v", err)
	}
	if def.Model != "claude-sonnet-4" {
		t.Errorf("Expected resolved model claude-sonnet-4, got %s", def.Model)
	}
	if def.RouteID != "billing-agent@warden.local" {
		t.Errorf("Unexpected route id: %s", def.RouteID)
	}
	if len(def.Mounts) != 4 {
		t.Errorf("Expected 4 default mounts, got %d", len(def.Mounts))
	}

	// Settings bundle: secret reference resolved, bare key looked up,
	// literal kept, all on disk only.
	env := readSettings(t, cfg, "billing-agent")
	if env["STRIPE_KEY"] != "sk-prod-123" {
		t.Errorf("Secret reference not resolved: %q", env["STRIPE_KEY"])
	}
	if env["ANTHROPIC_API_KEY"] != "ak-456" {
		t.Errorf("Bare key not resolved from store: %q", env["ANTHROPIC_API_KEY"])
	}
	if env["REGION"] != "us-east-1" {
		t.Errorf("Literal value not kept: %q", env["REGION"])
	}

	// Scheduled task registered with a future next run.
	tasks, err := reg.TasksForOwner("billing-agent")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("Expected 1 scheduled task, got %d", len(tasks))
	}
	if tasks[0].Prompt != "send the daily invoice summary" {
		t.Errorf("Unexpected prompt: %s", tasks[0].Prompt)
	}
	if !tasks[0].NextRun.After(time.Now().Add(-time.Minute)) {
		t.Errorf("Next run should be in the future, got %v", tasks[0].NextRun)
	}
}

func TestCreate_FencedInstructions(t *testing.T) {
	c, cfg, _ := newTestController(t)

	op := createOp("reports", "## CLAUDE.md\n```markdown\n## Not A Section\nfenced content\n```\n")
	if err := c.Create(op); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	doc, _ := os.ReadFile(filepath.Join(cfg.RootDir, "agents", "reports", "CLAUDE.md"))
	if string(doc) != "## Not A Section\nfenced content\n" {
		t.Errorf("Fence should be stripped from the written document: %q", string(doc))
	}
}

func TestCreate_MissingInstructions(t *testing.T) {
	c, cfg, reg := newTestController(t)

	op := createOp("billing-agent", "## Mounts\n- host: /data\n  container: /data\n")
	if err := c.Create(op); !errors.Is(err, ErrMissingSection) {
		t.Fatalf("Expected ErrMissingSection, got %v", err)
	}

	// No side effects.
	if _, err := os.Stat(filepath.Join(cfg.RootDir, "tasks", "billing-agent")); !os.IsNotExist(err) {
		t.Error("No partitions should exist after a rejected create")
	}
	if def, _ := reg.GetAgent("billing-agent"); def != nil {
		t.Error("No registry entry should exist after a rejected create")
	}
}

func TestCreate_InstructionCeiling(t *testing.T) {
	c, _, _ := newTestController(t)

	// Exactly at the ceiling passes.
	if err := c.Create(createOp("at-limit", "## CLAUDE.md\n"+docOfLines(150)+"\n")); err != nil {
		t.Fatalf("Document of exactly 150 lines should pass: %v", err)
	}

	// One line over fails.
	err := c.Create(createOp("over-limit", "## CLAUDE.md\n"+docOfLines(151)+"\n"))
	if err == nil {
		t.Fatal("Document of 151 lines should be rejected")
	}
	if !strings.Contains(err.Error(), "151") {
		t.Errorf("Error should report the offending line count: %v", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	c, _, _ := newTestController(t)

	body := "## CLAUDE.md\nfirst\n"
	if err := c.Create(createOp("billing-agent", body)); err != nil {
		t.Fatal(err)
	}
	if err := c.Create(createOp("billing-agent", body)); !errors.Is(err, registry.ErrAgentExists) {
		t.Errorf("Expected ErrAgentExists, got %v", err)
	}
}

func TestCreate_IsolationViolation(t *testing.T) {
	c, cfg, reg := newTestController(t)

	if err := c.Create(createOp("billing-agent", "## CLAUDE.md\nbilling\n")); err != nil {
		t.Fatal(err)
	}

	op := createOp("spy-agent", `## CLAUDE.md
spy

## Mounts
- host: tasks/billing-agent/inbox
  container: /peek
`)
	err := c.Create(op)
	if !errors.Is(err, mounts.ErrIsolationViolation) {
		t.Fatalf("Expected ErrIsolationViolation, got %v", err)
	}
	if !strings.Contains(err.Error(), "billing-agent") {
		t.Errorf("Violation should name the offended agent: %v", err)
	}

	// Validation runs before any side effect.
	if _, err := os.Stat(filepath.Join(cfg.RootDir, "tasks", "spy-agent")); !os.IsNotExist(err) {
		t.Error("No partitions should exist for the rejected agent")
	}
	if def, _ := reg.GetAgent("spy-agent"); def != nil {
		t.Error("No registry entry should exist for the rejected agent")
	}
}

func TestModify(t *testing.T) {
	c, cfg, reg := newTestController(t)

	if err := c.Create(createOp("billing-agent", `## CLAUDE.md
original instructions

## API Keys
- key: REGION
  value: us-east-1
`)); err != nil {
		t.Fatal(err)
	}

	op := &models.SpecOp{
		Operation: models.OpModify,
		Agent:     "billing-agent",
		Model:     "opus",
		Body: `## CLAUDE.md
replaced instructions

## API Keys
- key: STRIPE_KEY
  value: secret:STRIPE_PROD

## Mounts
- host: /var/exports
  container: /exports
  readonly: true
`,
	}
	if err := c.Modify(op); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	doc, _ := os.ReadFile(filepath.Join(cfg.RootDir, "agents", "billing-agent", "CLAUDE.md"))
	if string(doc) != "replaced instructions\n" {
		t.Errorf("Instruction document should be replaced: %q", string(doc))
	}

	def, _ := reg.GetAgent("billing-agent")
	if def.Model != "claude-opus-4" {
		t.Errorf("Expected updated model, got %s", def.Model)
	}
	// Default mounts survive, new one appended.
	if len(def.Mounts) != 5 {
		t.Fatalf("Expected 5 mounts after modify, got %d", len(def.Mounts))
	}
	last := def.Mounts[4]
	if last.HostPath != "/var/exports" || !last.ReadOnly {
		t.Errorf("Unexpected appended mount: %+v", last)
	}

	// New env keys merge over the existing bundle.
	env := readSettings(t, cfg, "billing-agent")
	if env["REGION"] != "us-east-1" {
		t.Errorf("Existing env key should survive, got %q", env["REGION"])
	}
	if env["STRIPE_KEY"] != "sk-prod-123" {
		t.Errorf("New env key should be merged, got %q", env["STRIPE_KEY"])
	}
}

func TestModify_SuffixResolution(t *testing.T) {
	c, _, reg := newTestController(t)

	if err := c.Create(createOp("billing-agent", "## CLAUDE.md\nhi\n")); err != nil {
		t.Fatal(err)
	}

	op := &models.SpecOp{Operation: models.OpModify, Agent: "billing", Model: "haiku"}
	if err := c.Modify(op); err != nil {
		t.Fatalf("Modify by short name failed: %v", err)
	}

	def, _ := reg.GetAgent("billing-agent")
	if def.Model != "claude-3-5-haiku" {
		t.Errorf("Short name should resolve to the suffixed agent, got model %s", def.Model)
	}
}

func TestModify_SelfRouteResolution(t *testing.T) {
	c, cfg, reg := newTestController(t)

	// The controller's own entry is registered under its route identity.
	self := &models.AgentDefinition{
		Name:    "warden-core",
		Folder:  "warden",
		RouteID: cfg.Controller.Identity + "@warden.local",
	}
	if err := reg.CreateAgent(self); err != nil {
		t.Fatal(err)
	}

	op := &models.SpecOp{Operation: models.OpModify, Agent: "controller", Model: "opus"}
	if err := c.Modify(op); err != nil {
		t.Fatalf("Modify via controller alias failed: %v", err)
	}

	def, _ := reg.GetAgent("warden-core")
	if def.Model != "claude-opus-4" {
		t.Errorf("Alias should resolve via route lookup, got model %s", def.Model)
	}
}

func TestModify_NotFound(t *testing.T) {
	c, _, _ := newTestController(t)
	op := &models.SpecOp{Operation: models.OpModify, Agent: "ghost"}
	if err := c.Modify(op); !errors.Is(err, registry.ErrAgentNotFound) {
		t.Errorf("Expected ErrAgentNotFound, got %v", err)
	}
}

func TestModify_Append(t *testing.T) {
	c, cfg, _ := newTestController(t)

	if err := c.Create(createOp("reports", "## CLAUDE.md\nline one\n")); err != nil {
		t.Fatal(err)
	}

	op := &models.SpecOp{
		Operation: models.OpModify,
		Agent:     "reports",
		Body:      "## Append\nline two\nline three\n",
	}
	if err := c.Modify(op); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	doc, _ := os.ReadFile(filepath.Join(cfg.RootDir, "agents", "reports", "CLAUDE.md"))
	if string(doc) != "line one\nline two\nline three\n" {
		t.Errorf("Unexpected appended document: %q", string(doc))
	}
}

func TestModify_AppendOverCeilingLeavesDocUnmodified(t *testing.T) {
	c, cfg, _ := newTestController(t)

	original := docOfLines(149)
	if err := c.Create(createOp("reports", "## CLAUDE.md\n"+original+"\n")); err != nil {
		t.Fatal(err)
	}

	op := &models.SpecOp{
		Operation: models.OpModify,
		Agent:     "reports",
		Body:      "## Append\nextra one\nextra two\n",
	}
	err := c.Modify(op)
	if err == nil {
		t.Fatal("Append growing the document to 151 lines should be rejected")
	}

	doc, _ := os.ReadFile(filepath.Join(cfg.RootDir, "agents", "reports", "CLAUDE.md"))
	if string(doc) != original+"\n" {
		t.Error("Rejected append should leave the document unmodified")
	}
}

func TestModify_TaskUpsert(t *testing.T) {
	c, _, reg := newTestController(t)

	if err := c.Create(createOp("billing-agent", `## CLAUDE.md
hi

## Scheduled Tasks
- id: daily-summary
  cron: 0 9 * * *
  prompt: send summary
`)); err != nil {
		t.Fatal(err)
	}

	op := &models.SpecOp{
		Operation: models.OpModify,
		Agent:     "billing-agent",
		Body: `## Scheduled Tasks
- id: daily-summary
  cron: 0 18 * * *
  prompt: send evening summary
`,
	}
	if err := c.Modify(op); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	tasks, _ := reg.TasksForOwner("billing-agent")
	if len(tasks) != 1 {
		t.Fatalf("Upsert by id should not duplicate, got %d tasks", len(tasks))
	}
	if tasks[0].Schedule != "0 18 * * *" || tasks[0].Prompt != "send evening summary" {
		t.Errorf("Task should be updated in place: %+v", tasks[0])
	}
}

func TestCreate_TaskIdOwnedByAnotherAgent(t *testing.T) {
	c, _, reg := newTestController(t)

	if err := c.Create(createOp("agent-a", `## CLAUDE.md
a

## Scheduled Tasks
- id: shared-id
  cron: 0 9 * * *
  prompt: morning run for a
`)); err != nil {
		t.Fatal(err)
	}

	err := c.Create(createOp("agent-b", `## CLAUDE.md
b

## Scheduled Tasks
- id: shared-id
  cron: 0 10 * * *
  prompt: morning run for b
`))
	if err == nil {
		t.Fatal("Create declaring a task id owned by another agent should fail")
	}
	if !strings.Contains(err.Error(), "owned by another agent") {
		t.Errorf("Expected an ownership error, got %v", err)
	}

	if tasks, _ := reg.TasksForOwner("agent-b"); len(tasks) != 0 {
		t.Errorf("No tasks should be registered for the failed spec, got %d", len(tasks))
	}
	// The first agent's task is untouched.
	task, _ := reg.GetTask("shared-id")
	if task == nil || task.OwnerFolder != "agent-a" || task.Prompt != "morning run for a" {
		t.Errorf("Existing task should be untouched: %+v", task)
	}
}

func TestModify_TaskIdOwnedByAnotherAgent(t *testing.T) {
	c, _, reg := newTestController(t)

	if err := c.Create(createOp("agent-a", `## CLAUDE.md
a

## Scheduled Tasks
- id: shared-id
  cron: 0 9 * * *
  prompt: a's task
`)); err != nil {
		t.Fatal(err)
	}
	if err := c.Create(createOp("agent-b", "## CLAUDE.md\nb\n")); err != nil {
		t.Fatal(err)
	}

	op := &models.SpecOp{
		Operation: models.OpModify,
		Agent:     "agent-b",
		Body: `## Scheduled Tasks
- id: shared-id
  cron: 0 10 * * *
  prompt: takeover
`,
	}
	err := c.Modify(op)
	if err == nil {
		t.Fatal("Modify declaring a task id owned by another agent should fail")
	}
	if !strings.Contains(err.Error(), "owned by another agent") {
		t.Errorf("Expected an ownership error, got %v", err)
	}

	task, _ := reg.GetTask("shared-id")
	if task.OwnerFolder != "agent-a" || task.Prompt != "a's task" {
		t.Errorf("Existing task should be untouched: %+v", task)
	}
}

func TestApplyTaskRecords_RegistryFailure(t *testing.T) {
	c, _, reg := newTestController(t)

	if err := c.Create(createOp("agent-a", "## CLAUDE.md\na\n")); err != nil {
		t.Fatal(err)
	}
	def, err := reg.GetAgent("agent-a")
	if err != nil || def == nil {
		t.Fatal(err)
	}

	// A registry gone away mid-handler must surface, not be absorbed.
	reg.Close()

	err = c.applyTaskRecords(def, `## Scheduled Tasks
- cron: 0 9 * * *
  prompt: never registered
`)
	if err == nil {
		t.Error("A failed task insert should fail the operation")
	}

	err = c.applyTaskRecords(def, `## Scheduled Tasks
- id: some-id
  cron: 0 9 * * *
  prompt: never registered
`)
	if err == nil {
		t.Error("A failed task lookup should fail the operation")
	}
}

func TestCreate_SkipsBadCronEntry(t *testing.T) {
	c, _, reg := newTestController(t)

	if err := c.Create(createOp("reports", `## CLAUDE.md
hi

## Scheduled Tasks
- cron: not a schedule
  prompt: never runs
- cron: 0 8 * * 1
  prompt: weekly report
`)); err != nil {
		t.Fatalf("A bad cron entry should not fail the whole spec: %v", err)
	}

	tasks, _ := reg.TasksForOwner("reports")
	if len(tasks) != 1 {
		t.Fatalf("Expected only the valid task, got %d", len(tasks))
	}
	if tasks[0].Prompt != "weekly report" {
		t.Errorf("Unexpected surviving task: %+v", tasks[0])
	}
}

func TestDelete(t *testing.T) {
	c, cfg, reg := newTestController(t)

	if err := c.Create(createOp("billing-agent", `## CLAUDE.md
hi

## Scheduled Tasks
- cron: 0 9 * * *
  prompt: summary
`)); err != nil {
		t.Fatal(err)
	}

	// Leave work in flight and results unclaimed.
	mustWrite := func(parts ...string) {
		path := filepath.Join(append([]string{cfg.RootDir}, parts...)...)
		if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("tasks", "billing-agent", "inbox", "task-a.md")
	mustWrite("tasks", "billing-agent", "active", "task-b.md")
	mustWrite("results", "billing-agent", "inbox", "result-a.md")

	op := &models.SpecOp{Operation: models.OpDelete, Agent: "billing-agent"}
	if err := c.Delete(op); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if def, _ := reg.GetAgent("billing-agent"); def != nil {
		t.Error("Registry entry should be gone")
	}
	if tasks, _ := reg.TasksForOwner("billing-agent"); len(tasks) != 0 {
		t.Error("Scheduled tasks should be gone")
	}
	if _, err := os.Stat(filepath.Join(cfg.RootDir, "agents", "billing-agent")); !os.IsNotExist(err) {
		t.Error("Agent dir should be removed")
	}
	if _, err := os.Stat(filepath.Join(cfg.RootDir, "sessions", "billing-agent")); !os.IsNotExist(err) {
		t.Error("Session dir should be removed")
	}

	// Partition contents are archived, not erased.
	for _, name := range []string{"task-a.md", "task-b.md"} {
		if _, err := os.Stat(filepath.Join(cfg.RootDir, "tasks", "billing-agent", "archive", name)); err != nil {
			t.Errorf("Expected %s in tasks archive: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.RootDir, "results", "billing-agent", "archive", "result-a.md")); err != nil {
		t.Errorf("Expected result in results archive: %v", err)
	}

	// Recreating the same agent works and archived history survives.
	if err := c.Create(createOp("billing-agent", "## CLAUDE.md\nreborn\n")); err != nil {
		t.Fatalf("Recreate after delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.RootDir, "tasks", "billing-agent", "archive", "task-a.md")); err != nil {
		t.Error("Archived files should survive a recreate")
	}
}

func TestDelete_Self(t *testing.T) {
	c, _, _ := newTestController(t)

	for _, alias := range []string{"warden", "warden-agent", "controller"} {
		op := &models.SpecOp{Operation: models.OpDelete, Agent: alias}
		if err := c.Delete(op); !errors.Is(err, ErrSelfDelete) {
			t.Errorf("Deleting %q should fail with ErrSelfDelete, got %v", alias, err)
		}
	}
}

func TestDelete_NotFound(t *testing.T) {
	c, _, _ := newTestController(t)
	op := &models.SpecOp{Operation: models.OpDelete, Agent: "ghost"}
	if err := c.Delete(op); !errors.Is(err, registry.ErrAgentNotFound) {
		t.Errorf("Expected ErrAgentNotFound, got %v", err)
	}
}

func TestLineCount(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"one\n", 1},
		{"one\ntwo", 2},
		{"one\ntwo\n", 2},
		{"one\n\nthree", 3},
	}
	for _, tc := range cases {
		if got := lineCount(tc.in); got != tc.want {
			t.Errorf("lineCount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
