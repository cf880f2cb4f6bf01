// Package models defines the core domain types for warden.
package models

import "time"

// Operation is the kind of change a spec file requests.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Valid reports whether the operation is one of the recognized kinds.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpModify, OpDelete:
		return true
	}
	return false
}

// SpecState is the processing state of a spec file, encoded in its
// filename suffix. Transitions are one-way and terminal except
// PENDING_APPROVAL -> APPROVED, which is driven by an external rename.
type SpecState string

const (
	StateNew             SpecState = "NEW"
	StatePendingApproval SpecState = "PENDING_APPROVAL"
	StateApproved        SpecState = "APPROVED"
	StateApplied         SpecState = "APPLIED"
	StateFailed          SpecState = "FAILED"
)

// SpecOp is one parsed spec file: the operation header plus the raw
// markdown body. It is immutable once parsed and discarded after the
// operation completes or fails.
type SpecOp struct {
	Operation Operation `json:"operation"`
	Agent     string    `json:"agent"`
	Model     string    `json:"model,omitempty"`
	Body      string    `json:"-"`
}

// Mount maps a host path into an agent's container namespace.
type Mount struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
	ReadOnly      bool   `json:"read_only"`
}

// AgentDefinition is one provisioned worker agent as stored in the
// registry. Folder uniquely determines the agent's private partitions
// (tasks/{folder}, results/{folder}, knowledge/{folder}).
type AgentDefinition struct {
	Name            string    `json:"name"`
	Folder          string    `json:"folder"`
	RouteID         string    `json:"route_id"`
	Model           string    `json:"model,omitempty"`
	Trigger         string    `json:"trigger,omitempty"`
	RequiresTrigger bool      `json:"requires_trigger"`
	TimeoutSec      int       `json:"timeout_sec"`
	Mounts          []Mount   `json:"mounts"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskStatusActive TaskStatus = "active"
	TaskStatusPaused TaskStatus = "paused"
)

// ContextMode selects how a scheduled task's prompt is delivered.
type ContextMode string

const (
	ContextGroup    ContextMode = "group"
	ContextIsolated ContextMode = "isolated"
)

// ScheduledTask is one cron-triggered job bound to an agent. NextRun is
// the next future instant implied by Schedule at the moment it was last
// computed.
type ScheduledTask struct {
	ID          string      `json:"id"`
	OwnerFolder string      `json:"owner_folder"`
	RouteID     string      `json:"route_id"`
	Prompt      string      `json:"prompt"`
	Schedule    string      `json:"schedule"`
	ContextMode ContextMode `json:"context_mode"`
	NextRun     time.Time   `json:"next_run"`
	Status      TaskStatus  `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// AuditRecord is one row of the operation audit trail.
type AuditRecord struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Agent      string    `json:"agent,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
