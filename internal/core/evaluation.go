package core

import "time"

// EvaluationMode selects whether an evaluator runs once across all files or
// once per file.
type EvaluationMode string

const (
	ModeUnified     EvaluationMode = "unified"
	ModeIndependent EvaluationMode = "independent"
)

// EvaluatorFilter narrows which declared evaluators run.
type EvaluatorFilter string

const (
	FilterAll               EvaluatorFilter = "all"
	FilterErrorsOnly        EvaluatorFilter = "errors-only"
	FilterSuggestionsOnly   EvaluatorFilter = "suggestions-only"
)

// EvaluatorResult wraps one evaluator's raw provider response alongside the
// issues parsed out of it.
type EvaluatorResult struct {
	EvaluatorName string   `json:"evaluatorName"`
	RawResponse   string   `json:"rawResponse,omitempty"`
	Issues        []Issue  `json:"issues"`
	DurationMs    int64    `json:"durationMs"`
	CostUSD       float64  `json:"costUsd"`
}

// FileEvaluations is the per-file bucket used in independent mode.
type FileEvaluations struct {
	Evaluations []EvaluatorResult `json:"evaluations"`
	IssueCount  int               `json:"issueCount"`
}

// FailedEvaluator records a non-fatal evaluator failure.
type FailedEvaluator struct {
	EvaluatorName string        `json:"evaluatorName"`
	File          string        `json:"file,omitempty"`
	Category      ErrorCategory `json:"category"`
	Message       string        `json:"message"`
}

// EvaluationMetadata is shared by both unified and independent result shapes.
type EvaluationMetadata struct {
	GeneratedAt       time.Time          `json:"generatedAt"`
	Provider          string             `json:"provider"`
	Mode              EvaluationMode     `json:"mode"`
	TotalFiles        int                `json:"totalFiles"`
	ProjectContext    ProjectContext     `json:"projectContext"`
	TotalCostUSD      float64            `json:"totalCostUsd"`
	TotalDurationMs   int64              `json:"totalDurationMs"`
	TotalTokensIn     int                `json:"totalTokensIn"`
	TotalTokensOut    int                `json:"totalTokensOut"`
	FailedEvaluators  []FailedEvaluator  `json:"failedEvaluators,omitempty"`
	Curation          *CurationOutput    `json:"curation,omitempty"`
}

// EvaluationResult is the top-level output of the Evaluation Orchestrator, in
// one of two shapes selected by Metadata.Mode.
type EvaluationResult struct {
	Metadata EvaluationMetadata `json:"metadata"`

	// Unified shape.
	Results []EvaluatorResult `json:"results,omitempty"`

	// Independent shape.
	Files map[string]*FileEvaluations `json:"files,omitempty"`

	CrossFileIssues []Issue `json:"crossFileIssues,omitempty"`
}

// CountIssues sums every issue across both result shapes, used by the
// aggregation invariant in testable-properties checks.
func (r *EvaluationResult) CountIssues() int {
	n := len(r.CrossFileIssues)
	for _, res := range r.Results {
		n += len(res.Issues)
	}
	for _, fe := range r.Files {
		for _, res := range fe.Evaluations {
			n += len(res.Issues)
		}
	}
	return n
}

// AllIssues flattens every issue across both result shapes, preserving no
// particular order (used by dedup/curation input assembly).
func (r *EvaluationResult) AllIssues() []Issue {
	out := append([]Issue{}, r.CrossFileIssues...)
	for _, res := range r.Results {
		out = append(out, res.Issues...)
	}
	for _, fe := range r.Files {
		for _, res := range fe.Evaluations {
			out = append(out, res.Issues...)
		}
	}
	return out
}

// CurationBlock is one issue-type's curation output.
type CurationBlock struct {
	CuratedIssues []Issue `json:"curatedIssues"`
	Summary       string  `json:"summary"`
	TotalReviewed int     `json:"totalReviewed"`
	Rationale     string  `json:"rationale"`
	CostUSD       float64 `json:"costUsd"`
	DurationMs    int64   `json:"durationMs"`
}

// CurationOutput holds up to two independent curation blocks, one per
// issue-type.
type CurationOutput struct {
	Errors      *CurationBlock `json:"errors,omitempty"`
	Suggestions *CurationBlock `json:"suggestions,omitempty"`
}
