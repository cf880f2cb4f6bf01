package controller

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/specfile"
)

// approvalNote is appended to a gated spec so the operator knows what
// to do with it. Approval is an external rename: whoever can rename the
// file is trusted to approve it.
const approvalNote = "this operation targets the controller itself and is held for approval; " +
	"rename the file's PENDING_APPROVAL suffix to APPROVED to proceed"

// ProcessNew handles one freshly observed spec file: parse, divert
// self-targeting create/modify through the approval gate, otherwise
// apply and transition to a terminal state. Handler failures never
// propagate; they become a FAILED rename with an explanatory note.
func (c *Controller) ProcessNew(path string) {
	op, err := specfile.ParseFile(path)
	if err != nil {
		c.fail(path, op, err)
		return
	}

	// Approval gate: self-targeting create/modify waits for an operator.
	// Self-targeting delete is never gated; it hard-fails in Delete.
	if op.Operation != models.OpDelete && c.cfg.IsSelf(op.Agent) {
		newPath, err := specfile.Transition(path, models.StatePendingApproval, approvalNote)
		if err != nil {
			c.log.Error("approval gate transition failed", zap.String("spec", path), zap.Error(err))
			return
		}
		if _, err := c.audit.Record("spec."+string(op.Operation), op, "pending_approval", op.Agent, "awaiting operator approval"); err != nil {
			c.log.Error("audit write failed", zap.String("spec", newPath), zap.Error(err))
		}
		c.log.Info("spec held for approval",
			zap.String("spec", newPath),
			zap.String("operation", string(op.Operation)),
			zap.String("agent", op.Agent))
		return
	}

	c.apply(path, op)
}

// ProcessApproved re-runs a spec the operator approved by renaming it.
// Appended notes are stripped before parsing, so the spec applies
// exactly as a non-gated one would.
func (c *Controller) ProcessApproved(path string) {
	op, err := specfile.ParseFile(path)
	if err != nil {
		c.fail(path, op, err)
		return
	}
	c.apply(path, op)
}

func (c *Controller) apply(path string, op *models.SpecOp) {
	var err error
	switch op.Operation {
	case models.OpCreate:
		err = c.Create(op)
	case models.OpModify:
		err = c.Modify(op)
	case models.OpDelete:
		err = c.Delete(op)
	default:
		err = fmt.Errorf("%w: unrecognized operation %q", specfile.ErrMalformedSpec, op.Operation)
	}
	if err != nil {
		c.fail(path, op, err)
		return
	}

	if _, err := c.audit.Record("spec."+string(op.Operation), op, "applied", op.Agent, ""); err != nil {
		c.log.Error("audit write failed", zap.String("spec", path), zap.Error(err))
	}
	newPath, err := specfile.Transition(path, models.StateApplied, "")
	if err != nil {
		c.log.Error("applied transition failed", zap.String("spec", path), zap.Error(err))
		return
	}
	c.log.Info("spec applied",
		zap.String("spec", newPath),
		zap.String("operation", string(op.Operation)),
		zap.String("agent", op.Agent))
}

// fail transitions a spec to FAILED with the error as its note. op may
// be nil when parsing itself failed.
func (c *Controller) fail(path string, op *models.SpecOp, cause error) {
	operation, agent := "unknown", ""
	if op != nil {
		operation, agent = string(op.Operation), op.Agent
	}

	if _, err := c.audit.Record("spec."+operation, op, "failed", agent, cause.Error()); err != nil {
		c.log.Error("audit write failed", zap.String("spec", path), zap.Error(err))
	}
	c.log.Warn("spec failed",
		zap.String("spec", path),
		zap.String("operation", operation),
		zap.String("agent", agent),
		zap.Error(cause))

	if _, err := specfile.Transition(path, models.StateFailed, cause.Error()); err != nil {
		c.log.Error("failed transition failed", zap.String("spec", path), zap.Error(err))
	}
}
