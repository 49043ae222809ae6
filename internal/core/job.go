package core

import (
	"fmt"
	"time"
)

// JobID uniquely identifies a submitted job.
type JobID string

// JobKind distinguishes the two queues/worker-pools the Job Manager owns.
type JobKind string

const (
	JobKindEvaluation  JobKind = "evaluation"
	JobKindRemediation JobKind = "remediation"
)

// JobStatus is a job's position in its lifecycle state machine.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// EvaluationRequest is the admission-time payload of an evaluation job.
type EvaluationRequest struct {
	RepositoryURL      string
	LocalPath          string
	Branch             string
	CommitSha          string
	Evaluators         []string
	SelectedEvaluators []string
	EvaluatorFilter    EvaluatorFilter
	Provider           string
	Mode               EvaluationMode
	Concurrency        int
	Timeout            time.Duration
}

// RemediationRequest is the admission-time payload of a remediation job.
type RemediationRequest struct {
	EvaluationID string
	Issues       []Issue
	TargetAgent  TargetAgent
	Provider     string
}

// LogEntry is one line of a job's captured log ring (capacity 200 per job,
// distinct from the SSE Bus's own 500-entry event ring).
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Job is the Job Manager's unit of work. It is created on admission, mutated
// only by the orchestrator that owns it, and destroyed only by explicit
// delete.
type Job struct {
	ID          JobID
	Kind        JobKind
	Status      JobStatus
	RepositoryURL string

	EvalRequest *EvaluationRequest
	RemRequest  *RemediationRequest

	Progress Progress
	Logs     []LogEntry

	EvalResult *EvaluationResult
	RemResult  *RemediationResult

	Err *DomainError

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	cancel func(cause error)
}

const maxLogEntries = 200

// NewEvaluationJob constructs a queued evaluation job.
func NewEvaluationJob(id JobID, req *EvaluationRequest) *Job {
	return &Job{
		ID:            id,
		Kind:          JobKindEvaluation,
		Status:        JobStatusQueued,
		RepositoryURL: req.RepositoryURL,
		EvalRequest:   req,
		CreatedAt:     time.Now(),
	}
}

// NewRemediationJob constructs a queued remediation job.
func NewRemediationJob(id JobID, req *RemediationRequest) *Job {
	return &Job{
		ID:         id,
		Kind:       JobKindRemediation,
		Status:     JobStatusQueued,
		RemRequest: req,
		CreatedAt:  time.Now(),
	}
}

// SetCancelFunc wires the cancellation function the Job Manager calls on
// Cancel(); it is not persisted and not part of Validate().
func (j *Job) SetCancelFunc(fn func(cause error)) {
	j.cancel = fn
}

// Cancel invokes the wired cancellation function, if any, with the given
// cause. A queued job with no cancel func wired yet transitions directly.
func (j *Job) Cancel(cause error) {
	if j.cancel != nil {
		j.cancel(cause)
	}
}

// Start transitions queued -> running.
func (j *Job) Start() error {
	if j.Status != JobStatusQueued {
		return fmt.Errorf("cannot start job in %s state", j.Status)
	}
	j.Status = JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
	return nil
}

// Complete transitions running -> completed.
func (j *Job) Complete() {
	j.Status = JobStatusCompleted
	now := time.Now()
	j.CompletedAt = &now
}

// Fail transitions (queued|running) -> failed.
func (j *Job) Fail(err *DomainError) {
	j.Status = JobStatusFailed
	j.Err = err
	now := time.Now()
	j.CompletedAt = &now
}

// CancelTerminal transitions (queued|running) -> cancelled.
func (j *Job) CancelTerminal() {
	j.Status = JobStatusCancelled
	j.Err = ErrCancelled("job cancelled by caller")
	now := time.Now()
	j.CompletedAt = &now
}

// Abandon marks a job that was left `running` across a process restart as
// failed with code ABANDONED, per the Job Manager's boot-time recovery rule.
func (j *Job) Abandon() {
	j.Fail(&DomainError{
		Category: ErrCatInternal,
		Code:     "ABANDONED",
		Message:  "job was running when the process restarted",
	})
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// AppendLog appends a log entry, dropping the oldest once capacity 200 is
// exceeded.
func (j *Job) AppendLog(level, message string) {
	j.Logs = append(j.Logs, LogEntry{Timestamp: time.Now(), Level: level, Message: message})
	if len(j.Logs) > maxLogEntries {
		j.Logs = j.Logs[len(j.Logs)-maxLogEntries:]
	}
}

// Validate checks job invariants before admission.
func (j *Job) Validate() error {
	if j.ID == "" {
		return ErrInvalid("JOB_ID_REQUIRED", "job ID cannot be empty")
	}
	if j.Kind == JobKindEvaluation {
		if j.EvalRequest == nil || (j.EvalRequest.RepositoryURL == "" && j.EvalRequest.LocalPath == "") {
			return ErrInvalid("REPOSITORY_REQUIRED", "evaluation job requires a repository URL or local path")
		}
	}
	if j.Kind == JobKindRemediation {
		if j.RemRequest == nil || j.RemRequest.EvaluationID == "" {
			return ErrInvalid("EVALUATION_ID_REQUIRED", "remediation job requires an evaluation id")
		}
	}
	return nil
}
