package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/evalsvc/docreview/internal/core"
)

// EvaluationRecord is a persisted evaluation: its result plus the
// repository coordinates that produced it, kept alongside the result so a
// later remediation request referencing this evaluation's ID can recover
// what repository/branch/commit to clone without the caller repeating
// itself.
type EvaluationRecord struct {
	ID            string                `json:"id"`
	RepositoryURL string                `json:"repositoryUrl"`
	Branch        string                `json:"branch,omitempty"`
	CommitSha     string                `json:"commitSha,omitempty"`
	LocalPath     string                `json:"localPath,omitempty"`
	Result        *core.EvaluationResult `json:"result,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// SaveEvaluation upserts an evaluation record, called once a job's
// Evaluation Orchestrator run completes successfully.
func (s *Store) SaveEvaluation(rec *EvaluationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return core.ErrInvalid("EVALUATION_ENCODE_FAILED", err.Error())
	}
	return s.retryWrite(func() error {
		_, err := s.db.Exec(`
			INSERT INTO evaluations (id, repository_url, branch, commit_sha, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				repository_url = excluded.repository_url,
				branch = excluded.branch,
				commit_sha = excluded.commit_sha,
				data = excluded.data`,
			rec.ID, rec.RepositoryURL, rec.Branch, rec.CommitSha, string(data), rec.CreatedAt)
		return err
	})
}

// GetEvaluation returns a persisted evaluation record by ID.
func (s *Store) GetEvaluation(id string) (*EvaluationRecord, error) {
	var data string
	row := s.db.QueryRow(`SELECT data FROM evaluations WHERE id = ?`, id)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound("evaluation", id)
		}
		return nil, core.ErrFileSystem("EVALUATION_LOAD_FAILED", err.Error())
	}
	var rec EvaluationRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, core.ErrInvalid("EVALUATION_DECODE_FAILED", err.Error())
	}
	return &rec, nil
}

// ImportEvaluation stores a caller-supplied evaluation record (from another
// run of this service, or hand-assembled) under a freshly minted ID, for
// the /api/evaluations/import endpoint.
func (s *Store) ImportEvaluation(record interface{}) (string, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return "", core.ErrInvalid("IMPORT_ENCODE_FAILED", err.Error())
	}
	var rec EvaluationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", core.ErrInvalid("IMPORT_DECODE_FAILED", err.Error())
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now()
	if err := s.SaveEvaluation(&rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}
