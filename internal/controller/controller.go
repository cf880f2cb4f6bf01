// Package controller applies parsed spec operations to the registry and
// filesystem, and runs the poll loop that drives them.
package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/mounts"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/schedule"
	"github.com/wardenhq/warden/internal/secrets"
	"github.com/wardenhq/warden/internal/specfile"
)

// maxInstructionLines is the ceiling on an agent's instruction document.
const maxInstructionLines = 150

// secretPrefix marks an environment value to be resolved by key lookup
// against the secret store instead of being taken literally.
const secretPrefix = "secret:"

// routeDomain forms each agent's opaque routing identity.
const routeDomain = "@warden.local"

// Sentinel errors surfaced as FAILED notes.
var (
	ErrSelfDelete     = errors.New("the controller's own identity is never deletable")
	ErrMissingSection = errors.New("missing required section")
)

// Controller turns parsed specs into registry mutations, filesystem
// side effects, and scheduled-task mutations. Effects within one
// handler are not transactional: a crash mid-handler leaves visible
// partial state, and re-running create against it fails on the existing
// registry entry rather than masking the inconsistency.
type Controller struct {
	cfg     *config.Config
	log     *zap.Logger
	reg     *registry.Registry
	secrets secrets.Store
	sched   schedule.Evaluator
	audit   *audit.Writer
}

// settingsBundle is the on-disk shape of sessions/{folder}/settings.json.
type settingsBundle struct {
	Env map[string]string `json:"env"`
}

// New wires a controller from its collaborators.
func New(cfg *config.Config, reg *registry.Registry, store secrets.Store, sched schedule.Evaluator, auditor *audit.Writer, log *zap.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		secrets: store,
		sched:   sched,
		audit:   auditor,
	}
}

// Create provisions a new agent from a create spec. All validation runs
// before the first side effect so a rejected spec leaves no partitions
// and no registry entry behind.
func (c *Controller) Create(op *models.SpecOp) error {
	doc, ok := specfile.Section(op.Body, specfile.SectionInstructions...)
	if !ok {
		return fmt.Errorf("%w: CLAUDE.md", ErrMissingSection)
	}
	doc = specfile.Unfence(doc)
	if n := lineCount(doc); n > maxInstructionLines {
		return fmt.Errorf("instruction document has %d lines, limit is %d", n, maxInstructionLines)
	}

	existing, err := c.reg.GetAgent(op.Agent)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("agent %q: %w", op.Agent, registry.ErrAgentExists)
	}

	folder := op.Agent
	custom, err := c.declaredMounts(op.Body, folder)
	if err != nil {
		return err
	}

	for _, dir := range c.partitionDirs(folder) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create partition %s: %w", dir, err)
		}
	}

	if err := os.MkdirAll(c.agentDir(folder), 0o755); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}
	if err := os.WriteFile(c.instructionPath(folder), []byte(doc+"\n"), 0o644); err != nil {
		return fmt.Errorf("write instruction document: %w", err)
	}

	def := &models.AgentDefinition{
		Name:    op.Agent,
		Folder:  folder,
		RouteID: folder + routeDomain,
		Model:   c.cfg.ResolveModel(op.Model),
		Mounts:  append(c.defaultMounts(folder), custom...),
	}
	if err := c.reg.CreateAgent(def); err != nil {
		return err
	}

	env := c.resolveEnv(nil, envRecords(op.Body))
	if err := c.writeSettings(folder, env); err != nil {
		return err
	}

	return c.applyTaskRecords(def, op.Body)
}

// Modify applies a modify spec to an existing agent. Any subset of the
// recognized sections may be present.
func (c *Controller) Modify(op *models.SpecOp) error {
	def, err := c.resolveAgent(op.Agent, true)
	if err != nil {
		return err
	}

	if doc, ok := specfile.Section(op.Body, specfile.SectionInstructions...); ok {
		doc = specfile.Unfence(doc)
		if n := lineCount(doc); n > maxInstructionLines {
			return fmt.Errorf("instruction document has %d lines, limit is %d", n, maxInstructionLines)
		}
		if err := os.WriteFile(c.instructionPath(def.Folder), []byte(doc+"\n"), 0o644); err != nil {
			return fmt.Errorf("write instruction document: %w", err)
		}
	}

	if addition, ok := specfile.Section(op.Body, specfile.SectionAppend...); ok {
		if err := c.appendInstructions(def.Folder, specfile.Unfence(addition)); err != nil {
			return err
		}
	}

	if op.Model != "" {
		def.Model = c.cfg.ResolveModel(op.Model)
	}

	if recs := envRecords(op.Body); len(recs) > 0 {
		current, err := c.readSettings(def.Folder)
		if err != nil {
			return err
		}
		if err := c.writeSettings(def.Folder, c.resolveEnv(current, recs)); err != nil {
			return err
		}
	}

	added, err := c.declaredMounts(op.Body, def.Folder)
	if err != nil {
		return err
	}
	// Mounts are append-only: existing entries are never replaced.
	def.Mounts = append(def.Mounts, added...)

	if err := c.reg.UpdateAgent(def); err != nil {
		return err
	}

	return c.applyTaskRecords(def, op.Body)
}

// Delete removes an agent, its tasks, and its instruction and session
// folders. Partition contents are archived, not erased: anything in the
// tasks inbox/active and results inbox moves into the matching archive.
func (c *Controller) Delete(op *models.SpecOp) error {
	if c.cfg.IsSelf(op.Agent) {
		return fmt.Errorf("agent %q: %w", op.Agent, ErrSelfDelete)
	}

	def, err := c.resolveAgent(op.Agent, false)
	if err != nil {
		return err
	}

	if _, err := c.reg.DeleteTasksForOwner(def.Folder); err != nil {
		return err
	}
	if err := c.reg.DeleteAgent(def.Name); err != nil {
		return err
	}

	if err := os.RemoveAll(c.agentDir(def.Folder)); err != nil {
		return fmt.Errorf("remove agent dir: %w", err)
	}
	if err := os.RemoveAll(c.sessionDir(def.Folder)); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}

	for _, sub := range []string{"inbox", "active"} {
		if err := archiveContents(c.tasksDir(def.Folder), sub); err != nil {
			return err
		}
	}
	return archiveContents(c.resultsDir(def.Folder), "inbox")
}

// resolveAgent resolves a modify/delete target: exact name first, then
// the conventional suffixed variant, then (for self-targeting specs)
// reverse lookup of the controller's own registered identity.
func (c *Controller) resolveAgent(name string, allowSelfLookup bool) (*models.AgentDefinition, error) {
	def, err := c.reg.GetAgent(name)
	if err != nil {
		return nil, err
	}
	if def == nil {
		def, err = c.reg.GetAgent(name + "-agent")
		if err != nil {
			return nil, err
		}
	}
	if def == nil && allowSelfLookup && c.cfg.IsSelf(name) {
		def, err = c.reg.FindAgentByRoute(c.cfg.Controller.Identity + routeDomain)
		if err != nil {
			return nil, err
		}
	}
	if def == nil {
		return nil, fmt.Errorf("agent %q: %w", name, registry.ErrAgentNotFound)
	}
	return def, nil
}

// appendInstructions appends to the instruction document, re-validating
// the line ceiling first. On violation the document is left unmodified.
func (c *Controller) appendInstructions(folder, addition string) error {
	existing, err := os.ReadFile(c.instructionPath(folder))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read instruction document: %w", err)
	}

	combined := strings.TrimSuffix(string(existing), "\n")
	if combined == "" {
		combined = addition
	} else {
		combined = combined + "\n" + addition
	}
	if n := lineCount(combined); n > maxInstructionLines {
		return fmt.Errorf("append would grow instruction document to %d lines, limit is %d", n, maxInstructionLines)
	}

	if err := os.MkdirAll(c.agentDir(folder), 0o755); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}
	if err := os.WriteFile(c.instructionPath(folder), []byte(combined+"\n"), 0o644); err != nil {
		return fmt.Errorf("write instruction document: %w", err)
	}
	return nil
}

// declaredMounts decodes and validates the Mounts section, if present.
// Rows missing a host or container path are skipped.
func (c *Controller) declaredMounts(body, selfFolder string) ([]models.Mount, error) {
	section, ok := specfile.Section(body, specfile.SectionMounts...)
	if !ok {
		return nil, nil
	}

	var declared []models.Mount
	for _, rec := range specfile.Records(section) {
		host := rec.Get("host", "hostpath", "host_path")
		container := rec.Get("container", "containerpath", "container_path")
		if host == "" || container == "" {
			continue
		}
		declared = append(declared, models.Mount{
			HostPath:      host,
			ContainerPath: container,
			ReadOnly:      rec.Bool("readonly", "read_only", "ro"),
		})
	}
	if len(declared) == 0 {
		return nil, nil
	}

	others, err := c.reg.ListAgents()
	if err != nil {
		return nil, err
	}
	if err := mounts.Validate(c.cfg.RootDir, selfFolder, declared, others); err != nil {
		return nil, err
	}
	return declared, nil
}

// defaultMounts grants an agent its own three partitions read-write and
// the shared root read-only.
func (c *Controller) defaultMounts(folder string) []models.Mount {
	return []models.Mount{
		{HostPath: c.tasksDir(folder), ContainerPath: "/tasks"},
		{HostPath: c.resultsDir(folder), ContainerPath: "/results"},
		{HostPath: c.knowledgeDir(folder), ContainerPath: "/knowledge"},
		{HostPath: c.cfg.RootDir, ContainerPath: "/shared", ReadOnly: true},
	}
}

// resolveEnv merges decoded environment records over base. A row with
// no value resolves the key itself from the secret store; a value with
// the secret: prefix resolves the referenced key; anything else is
// literal. Keys absent from the store are omitted.
func (c *Controller) resolveEnv(base map[string]string, recs []specfile.Record) map[string]string {
	env := make(map[string]string, len(base)+len(recs))
	for k, v := range base {
		env[k] = v
	}
	for _, rec := range recs {
		key := rec.Get("key", "name")
		if key == "" {
			continue
		}
		value := rec.Get("value")
		switch {
		case value == "":
			if v, ok := c.secrets.Resolve([]string{key})[key]; ok {
				env[key] = v
			}
		case strings.HasPrefix(value, secretPrefix):
			ref := strings.TrimPrefix(value, secretPrefix)
			if v, ok := c.secrets.Resolve([]string{ref})[ref]; ok {
				env[key] = v
			}
		default:
			env[key] = value
		}
	}
	return env
}

func (c *Controller) readSettings(folder string) (map[string]string, error) {
	data, err := os.ReadFile(c.settingsPath(folder))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings bundle: %w", err)
	}
	var bundle settingsBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse settings bundle: %w", err)
	}
	return bundle.Env, nil
}

func (c *Controller) writeSettings(folder string, env map[string]string) error {
	if err := os.MkdirAll(c.sessionDir(folder), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(settingsBundle{Env: env}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings bundle: %w", err)
	}
	if err := os.WriteFile(c.settingsPath(folder), append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings bundle: %w", err)
	}
	return nil
}

// applyTaskRecords creates or updates scheduled tasks from the tasks
// section. A malformed cron entry is skipped; registry failures fail
// the whole spec.
func (c *Controller) applyTaskRecords(def *models.AgentDefinition, body string) error {
	section, ok := specfile.Section(body, specfile.SectionTasks...)
	if !ok {
		return nil
	}

	now := time.Now()
	for _, rec := range specfile.Records(section) {
		expr := rec.Get("cron", "schedule")
		prompt := rec.Get("prompt")
		if expr == "" || prompt == "" {
			continue
		}

		nextRun, err := c.sched.Next(expr, now)
		if err != nil {
			c.log.Warn("skipping scheduled task with bad cron expression",
				zap.String("agent", def.Name),
				zap.String("schedule", expr),
				zap.Error(err))
			continue
		}

		contextMode := models.ContextGroup
		if strings.EqualFold(rec.Get("context"), string(models.ContextIsolated)) {
			contextMode = models.ContextIsolated
		}

		id := rec.Get("id")
		if id != "" {
			existing, err := c.reg.GetTask(id)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.OwnerFolder != def.Folder {
					return fmt.Errorf("scheduled task id %q is owned by another agent", id)
				}
				existing.Prompt = prompt
				existing.Schedule = expr
				existing.ContextMode = contextMode
				existing.NextRun = nextRun.UTC()
				if err := c.reg.UpdateTask(existing); err != nil {
					return fmt.Errorf("update scheduled task %q: %w", id, err)
				}
				continue
			}
		} else {
			id = uuid.New().String()
		}

		task := &models.ScheduledTask{
			ID:          id,
			OwnerFolder: def.Folder,
			RouteID:     def.RouteID,
			Prompt:      prompt,
			Schedule:    expr,
			ContextMode: contextMode,
			NextRun:     nextRun.UTC(),
			Status:      models.TaskStatusActive,
		}
		if err := c.reg.CreateTask(task); err != nil {
			return fmt.Errorf("register scheduled task %q: %w", id, err)
		}
	}
	return nil
}

func envRecords(body string) []specfile.Record {
	section, ok := specfile.Section(body, specfile.SectionEnvironment...)
	if !ok {
		return nil
	}
	return specfile.Records(section)
}

// archiveContents moves every file in <dir>/<sub> into <dir>/archive.
// Missing source directories are fine; name collisions get a timestamp
// prefix rather than overwriting archived history.
func archiveContents(dir, sub string) error {
	source := filepath.Join(dir, sub)
	entries, err := os.ReadDir(source)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", source, err)
	}

	archive := filepath.Join(dir, "archive")
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	for _, entry := range entries {
		target := filepath.Join(archive, entry.Name())
		if _, err := os.Stat(target); err == nil {
			target = filepath.Join(archive, fmt.Sprintf("%d-%s", time.Now().UnixNano(), entry.Name()))
		}
		if err := os.Rename(filepath.Join(source, entry.Name()), target); err != nil {
			return fmt.Errorf("archive %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// lineCount counts logical lines, ignoring one trailing newline so a
// document of exactly the ceiling with a final newline still passes.
func lineCount(s string) int {
	if s == "" {
		return 0
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Count(s, "\n") + 1
}
