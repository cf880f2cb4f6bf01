// Package registry provides the SQLite-backed registry of agent
// definitions and scheduled tasks.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/models"
	_ "modernc.org/sqlite"
)

// Sentinel errors for registry operations.
var (
	ErrAgentExists   = fmt.Errorf("agent already exists")
	ErrAgentNotFound = fmt.Errorf("agent not found")
	ErrTaskNotFound  = fmt.Errorf("scheduled task not found")
)

// Registry provides access to the warden SQLite database. Each call is
// individually atomic; no cross-call transaction is provided.
type Registry struct {
	db *sql.DB
}

// New creates a Registry and runs migrations.
func New(dbPath string) (*Registry, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return r, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Ping checks the database connection is alive.
func (r *Registry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (r *Registry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		name TEXT PRIMARY KEY,
		folder TEXT NOT NULL UNIQUE,
		route_id TEXT NOT NULL,
		model TEXT,
		trigger_policy TEXT,
		requires_trigger INTEGER NOT NULL DEFAULT 0,
		timeout_sec INTEGER NOT NULL DEFAULT 0,
		mounts TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id TEXT PRIMARY KEY,
		owner_folder TEXT NOT NULL,
		route_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		schedule TEXT NOT NULL,
		context_mode TEXT NOT NULL DEFAULT 'group',
		next_run DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		agent TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_owner ON scheduled_tasks(owner_folder);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit(agent);
	`

	_, err := r.db.Exec(schema)
	return err
}

// --- Agent Operations ---

// CreateAgent inserts a new agent definition. A duplicate name returns
// ErrAgentExists with the existing registration left intact.
func (r *Registry) CreateAgent(def *models.AgentDefinition) error {
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	mountsJSON, err := json.Marshal(def.Mounts)
	if err != nil {
		return fmt.Errorf("encode mounts: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO agents (name, folder, route_id, model, trigger_policy, requires_trigger, timeout_sec, mounts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.Name, def.Folder, def.RouteID, def.Model, def.Trigger,
		boolToInt(def.RequiresTrigger), def.TimeoutSec, string(mountsJSON), def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "unique constraint") {
			return ErrAgentExists
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by name. A missing agent returns (nil, nil).
func (r *Registry) GetAgent(name string) (*models.AgentDefinition, error) {
	row := r.db.QueryRow(
		`SELECT name, folder, route_id, model, trigger_policy, requires_trigger, timeout_sec, mounts, created_at, updated_at
		 FROM agents WHERE name = ?`,
		name,
	)
	def, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	return def, nil
}

// UpdateAgent replaces the stored definition for def.Name.
func (r *Registry) UpdateAgent(def *models.AgentDefinition) error {
	def.UpdatedAt = time.Now().UTC()

	mountsJSON, err := json.Marshal(def.Mounts)
	if err != nil {
		return fmt.Errorf("encode mounts: %w", err)
	}

	result, err := r.db.Exec(
		`UPDATE agents SET folder = ?, route_id = ?, model = ?, trigger_policy = ?, requires_trigger = ?, timeout_sec = ?, mounts = ?, updated_at = ?
		 WHERE name = ?`,
		def.Folder, def.RouteID, def.Model, def.Trigger,
		boolToInt(def.RequiresTrigger), def.TimeoutSec, string(mountsJSON), def.UpdatedAt, def.Name,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// DeleteAgent removes an agent's registry entry.
func (r *Registry) DeleteAgent(name string) error {
	result, err := r.db.Exec(`DELETE FROM agents WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// ListAgents returns all registered agents ordered by name.
func (r *Registry) ListAgents() ([]models.AgentDefinition, error) {
	rows, err := r.db.Query(
		`SELECT name, folder, route_id, model, trigger_policy, requires_trigger, timeout_sec, mounts, created_at, updated_at
		 FROM agents ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []models.AgentDefinition
	for rows.Next() {
		def, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *def)
	}
	return agents, rows.Err()
}

// FindAgentByRoute returns the agent whose routing identity matches, or
// (nil, nil) when none does. Used to resolve self-targeting specs to
// the controller's own registered entry.
func (r *Registry) FindAgentByRoute(routeID string) (*models.AgentDefinition, error) {
	row := r.db.QueryRow(
		`SELECT name, folder, route_id, model, trigger_policy, requires_trigger, timeout_sec, mounts, created_at, updated_at
		 FROM agents WHERE route_id = ? LIMIT 1`,
		routeID,
	)
	def, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query agent by route: %w", err)
	}
	return def, nil
}

// --- Scheduled Task Operations ---

// CreateTask inserts a new scheduled task.
func (r *Registry) CreateTask(task *models.ScheduledTask) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = models.TaskStatusActive
	}
	if task.ContextMode == "" {
		task.ContextMode = models.ContextGroup
	}

	_, err := r.db.Exec(
		`INSERT INTO scheduled_tasks (id, owner_folder, route_id, prompt, schedule, context_mode, next_run, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.OwnerFolder, task.RouteID, task.Prompt, task.Schedule,
		task.ContextMode, task.NextRun, task.Status, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a scheduled task by id. A missing task returns
// (nil, nil).
func (r *Registry) GetTask(id string) (*models.ScheduledTask, error) {
	row := r.db.QueryRow(
		`SELECT id, owner_folder, route_id, prompt, schedule, context_mode, next_run, status, created_at, updated_at
		 FROM scheduled_tasks WHERE id = ?`,
		id,
	)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// UpdateTask updates a scheduled task's prompt, schedule, context mode,
// and next run in place.
func (r *Registry) UpdateTask(task *models.ScheduledTask) error {
	task.UpdatedAt = time.Now().UTC()

	result, err := r.db.Exec(
		`UPDATE scheduled_tasks SET prompt = ?, schedule = ?, context_mode = ?, next_run = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		task.Prompt, task.Schedule, task.ContextMode, task.NextRun, task.Status, task.UpdatedAt, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a scheduled task.
func (r *Registry) DeleteTask(id string) error {
	_, err := r.db.Exec(`DELETE FROM scheduled_tasks WHERE id = ?`, id)
	return err
}

// TasksForOwner returns all scheduled tasks owned by an agent folder.
func (r *Registry) TasksForOwner(folder string) ([]models.ScheduledTask, error) {
	rows, err := r.db.Query(
		`SELECT id, owner_folder, route_id, prompt, schedule, context_mode, next_run, status, created_at, updated_at
		 FROM scheduled_tasks WHERE owner_folder = ? ORDER BY created_at`,
		folder,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// DeleteTasksForOwner removes every scheduled task owned by an agent
// folder, returning how many were deleted.
func (r *Registry) DeleteTasksForOwner(folder string) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM scheduled_tasks WHERE owner_folder = ?`, folder)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	return result.RowsAffected()
}

// --- Audit Operations ---

// WriteAudit inserts an audit record.
func (r *Registry) WriteAudit(rec *models.AuditRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO audit (id, action, inputs_hash, outcome, agent, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Action, rec.InputsHash, rec.Outcome, rec.Agent, rec.Details, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// --- Scan Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.AgentDefinition, error) {
	var def models.AgentDefinition
	var model, trigger sql.NullString
	var requiresTrigger int
	var mountsJSON string

	err := row.Scan(&def.Name, &def.Folder, &def.RouteID, &model, &trigger,
		&requiresTrigger, &def.TimeoutSec, &mountsJSON, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if model.Valid {
		def.Model = model.String
	}
	if trigger.Valid {
		def.Trigger = trigger.String
	}
	def.RequiresTrigger = requiresTrigger != 0
	if mountsJSON != "" {
		if err := json.Unmarshal([]byte(mountsJSON), &def.Mounts); err != nil {
			return nil, fmt.Errorf("decode mounts: %w", err)
		}
	}
	return &def, nil
}

func scanTask(row rowScanner) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	err := row.Scan(&task.ID, &task.OwnerFolder, &task.RouteID, &task.Prompt, &task.Schedule,
		&task.ContextMode, &task.NextRun, &task.Status, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
