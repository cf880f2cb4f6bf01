// Package audit records every dispatched spec operation for later
// operator diagnosis.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/registry"
)

// Writer appends audit records to the registry.
type Writer struct {
	registry *registry.Registry
}

// NewWriter creates an audit writer.
func NewWriter(r *registry.Registry) *Writer {
	return &Writer{registry: r}
}

// Record writes one audit row for a state-mutating action. Inputs are
// hashed rather than stored so spec bodies holding secrets never land
// in the audit table.
func (w *Writer) Record(action string, inputs any, outcome, agent, details string) (*models.AuditRecord, error) {
	rec := &models.AuditRecord{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: hashInputs(inputs),
		Outcome:    outcome,
		Agent:      agent,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	if err := w.registry.WriteAudit(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
