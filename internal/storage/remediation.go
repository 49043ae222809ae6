package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

// RemediationRecord is a persisted remediation run: the patch it produced,
// plus which evaluation it was run against.
type RemediationRecord struct {
	ID           string                 `json:"id"`
	EvaluationID string                 `json:"evaluationId"`
	Result       *core.RemediationResult `json:"result,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// SaveRemediation upserts a remediation record, called once a job's
// Remediation Orchestrator run completes successfully.
func (s *Store) SaveRemediation(rec *RemediationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return core.ErrInvalid("REMEDIATION_ENCODE_FAILED", err.Error())
	}
	return s.retryWrite(func() error {
		_, err := s.db.Exec(`
			INSERT INTO remediations (id, evaluation_id, data, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				evaluation_id = excluded.evaluation_id,
				data = excluded.data`,
			rec.ID, rec.EvaluationID, string(data), rec.CreatedAt)
		return err
	})
}

// GetRemediation returns a persisted remediation record by ID.
func (s *Store) GetRemediation(id string) (*RemediationRecord, error) {
	var data string
	row := s.db.QueryRow(`SELECT data FROM remediations WHERE id = ?`, id)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound("remediation", id)
		}
		return nil, core.ErrFileSystem("REMEDIATION_LOAD_FAILED", err.Error())
	}
	var rec RemediationRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, core.ErrInvalid("REMEDIATION_DECODE_FAILED", err.Error())
	}
	return &rec, nil
}

// PatchFor returns the unified diff a remediation run produced, for the
// /api/remediation/{id}/patch endpoint.
func (s *Store) PatchFor(id string) (string, error) {
	rec, err := s.GetRemediation(id)
	if err != nil {
		return "", err
	}
	if rec.Result == nil {
		return "", nil
	}
	return rec.Result.FullPatch, nil
}
