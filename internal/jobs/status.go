package jobs

import (
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

// jobStatus is the JSON shape returned from GET /api/evaluate/{id} and
// GET /api/remediation/{id}.
type jobStatus struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	RepositoryURL string          `json:"repositoryUrl,omitempty"`
	Progress      core.Progress   `json:"progress"`
	Error         string          `json:"error,omitempty"`
	ErrorCode     string          `json:"errorCode,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	Logs          []core.LogEntry `json:"logs,omitempty"`
}

func newJobStatus(job *core.Job) jobStatus {
	s := jobStatus{
		ID:            string(job.ID),
		Kind:          string(job.Kind),
		Status:        string(job.Status),
		RepositoryURL: job.RepositoryURL,
		Progress:      job.Progress,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		Logs:          job.Logs,
	}
	if job.Err != nil {
		s.Error = job.Err.Message
		s.ErrorCode = job.Err.Code
	}
	return s
}
