// Package sse implements the per-job typed event log and HTTP streaming
// surface described as the SSE Bus: an append-only ring per job that
// replays on subscribe, then fans out live events until the job terminates.
package sse

import (
	"encoding/json"
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

// EventType enumerates the wire event names of the SSE protocol.
type EventType string

const (
	EventJobStarted             EventType = "job.started"
	EventFileStarted            EventType = "file.started"
	EventFileCompleted          EventType = "file.completed"
	EventEvaluatorProgress      EventType = "evaluator.progress"
	EventEvaluatorCompleted     EventType = "evaluator.completed"
	EventEvaluatorRetry         EventType = "evaluator.retry"
	EventEvaluatorTimeout       EventType = "evaluator.timeout"
	EventCurationStarted        EventType = "curation.started"
	EventCurationCompleted      EventType = "curation.completed"
	EventJobCompleted           EventType = "job.completed"
	EventJobFailed              EventType = "job.failed"
	EventCloneStarted           EventType = "clone.started"
	EventCloneCompleted         EventType = "clone.completed"
	EventCloneWarning           EventType = "clone.warning"
	EventDiscoveryStarted       EventType = "discovery.started"
	EventDiscoveryCompleted     EventType = "discovery.completed"
	EventContextCloc            EventType = "context.cloc"
	EventContextFolders         EventType = "context.folders"
	EventContextAnalysis        EventType = "context.analysis"
	EventContextWarning         EventType = "context.warning"
	EventRemediationStepStarted EventType = "remediation.step.started"
	EventRemediationStepDone    EventType = "remediation.step.completed"
	EventRemediationProgress    EventType = "remediation.progress"
)

// IsTerminal reports whether this event type ends a job's subscription.
func (t EventType) IsTerminal() bool {
	return t == EventJobCompleted || t == EventJobFailed
}

// Event is one published item: a job-scoped envelope around a type-specific
// payload. Data is kept as json.RawMessage so the bus never needs to know
// concrete payload shapes.
type Event struct {
	JobID     core.JobID      `json:"jobId"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event envelope for the given job.
func NewEvent(jobID core.JobID, typ EventType, data interface{}) Event {
	raw, _ := json.Marshal(data)
	return Event{JobID: jobID, Type: typ, Timestamp: time.Now(), Data: raw}
}
