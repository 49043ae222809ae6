package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

// SaveJob upserts a job's full state, keyed by ID. Called after every
// status transition so a restart can recover from the last persisted
// snapshot.
func (s *Store) SaveJob(job *core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return core.ErrInvalid("JOB_ENCODE_FAILED", err.Error())
	}
	now := time.Now()
	return s.retryWrite(func() error {
		_, err := s.db.Exec(`
			INSERT INTO jobs (id, kind, status, repository_url, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				data = excluded.data,
				updated_at = excluded.updated_at`,
			string(job.ID), string(job.Kind), string(job.Status), job.RepositoryURL, string(data), job.CreatedAt, now)
		return err
	})
}

// LoadJob returns a previously persisted job by ID.
func (s *Store) LoadJob(id string) (*core.Job, error) {
	var data string
	row := s.db.QueryRow(`SELECT data FROM jobs WHERE id = ?`, id)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound("job", id)
		}
		return nil, core.ErrFileSystem("JOB_LOAD_FAILED", err.Error())
	}
	var job core.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, core.ErrInvalid("JOB_DECODE_FAILED", err.Error())
	}
	return &job, nil
}

// ListIncomplete returns every job left in the queued or running status,
// the set the Job Manager's boot-time Recover pass must mark abandoned:
// a restart loses every in-memory queue and worker goroutine, so neither
// status can mean anything but "never finished."
func (s *Store) ListIncomplete() ([]*core.Job, error) {
	rows, err := s.db.Query(`SELECT data FROM jobs WHERE status IN (?, ?)`,
		string(core.JobStatusQueued), string(core.JobStatusRunning))
	if err != nil {
		return nil, core.ErrFileSystem("JOB_LIST_FAILED", err.Error())
	}
	defer rows.Close()

	var jobs []*core.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, core.ErrFileSystem("JOB_LIST_FAILED", err.Error())
		}
		var job core.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, core.ErrInvalid("JOB_DECODE_FAILED", err.Error())
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
