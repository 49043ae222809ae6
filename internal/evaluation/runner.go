// Package evaluation implements the Evaluator Runner and the Evaluation
// Orchestrator: rendering one evaluator's prompt against one target,
// invoking the provider, and parsing the resulting issue list.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/provider"
)

// EvaluatorDef declares one evaluator: its prompt template and the issue
// defaults it contributes. The concrete prompt text of individual
// evaluators is a deployment concern, not specified here.
type EvaluatorDef struct {
	Name            string
	IssueType       core.IssueType
	PromptTemplate  string
	DefaultSeverity int
}

// Target is what one evaluator run is scoped to: a single file in
// independent mode, or the whole repository (FilePath empty) in unified
// mode, where the evaluator's own prompt enumerates file contents.
type Target struct {
	FilePath         string
	FileContent      string
	ReferenceContent string
	ProjectContext   core.ProjectContext
}

// RunResult is one evaluator run's output.
type RunResult struct {
	Issues      []core.Issue
	RawResponse string
	DurationMs  int64
	CostUSD     float64
}

// ProgressFunc reports evaluator.progress/completed-style events up to the
// orchestrator, which is responsible for turning them into SSE events.
type ProgressFunc func(event string, data map[string]any)

// Runner executes one EvaluatorDef against one Target.
type Runner struct {
	Provider   provider.Provider
	Model      string
	Timeout    time.Duration
	OnProgress ProgressFunc
}

// Run renders def's prompt, invokes the provider read-only, and parses the
// response into a normalized issue list.
func (r *Runner) Run(ctx context.Context, def EvaluatorDef, target *Target) (*RunResult, error) {
	r.progress("evaluator.progress", map[string]any{"evaluator": def.Name, "file": target.FilePath})

	prompt, err := renderPrompt(def, target)
	if err != nil {
		return nil, core.ErrParsing("PROMPT_RENDER_FAILED", err.Error()).WithCause(err)
	}

	start := time.Now()
	res, err := r.Provider.Invoke(ctx, provider.InvokeOptions{
		Prompt:    prompt,
		Model:     r.Model,
		Cwd:       "",
		WriteMode: false,
		Timeout:   r.Timeout,
	})
	if err != nil {
		return nil, classifyInvokeError(err)
	}

	rawJSON, err := ExtractIssuesJSON(res.ResultText)
	if err != nil {
		return nil, core.ErrParsing("ISSUES_JSON_NOT_FOUND", err.Error()).WithCause(err)
	}

	issues, err := parseIssues(rawJSON, def)
	if err != nil {
		return nil, core.ErrParsing("ISSUES_JSON_INVALID", err.Error()).WithCause(err)
	}

	r.progress("evaluator.completed", map[string]any{
		"evaluator":  def.Name,
		"file":       target.FilePath,
		"issueCount": len(issues),
		"durationMs": time.Since(start).Milliseconds(),
	})

	return &RunResult{
		Issues:      issues,
		RawResponse: res.ResultText,
		DurationMs:  res.DurationMs,
		CostUSD:     res.CostUSD,
	}, nil
}

func (r *Runner) progress(event string, data map[string]any) {
	if r.OnProgress != nil {
		r.OnProgress(event, data)
	}
}

// promptContext is the fixed set of template fields available to a
// PromptTemplate, substituted via text/template.
type promptContext struct {
	FilePath         string
	FileContent      string
	ReferenceContent string
	Languages        string
	Frameworks       string
	Architecture     string
	Patterns         string
}

func renderPrompt(def EvaluatorDef, target *Target) (string, error) {
	tmpl, err := template.New(def.Name).Parse(def.PromptTemplate)
	if err != nil {
		return "", fmt.Errorf("parsing evaluator template %s: %w", def.Name, err)
	}
	var sb strings.Builder
	err = tmpl.Execute(&sb, promptContext{
		FilePath:         target.FilePath,
		FileContent:      target.FileContent,
		ReferenceContent: target.ReferenceContent,
		Languages:        target.ProjectContext.Languages,
		Frameworks:       target.ProjectContext.Frameworks,
		Architecture:     target.ProjectContext.Architecture,
		Patterns:         target.ProjectContext.Patterns,
	})
	if err != nil {
		return "", fmt.Errorf("rendering evaluator template %s: %w", def.Name, err)
	}
	return sb.String(), nil
}

// parseIssues unmarshals rawJSON's "issues" array and normalizes each entry:
// missing severity defaults to def.DefaultSeverity, EvaluatorName is
// stamped, and Location presence is required.
func parseIssues(rawJSON []byte, def EvaluatorDef) ([]core.Issue, error) {
	var payload struct {
		Issues []core.Issue `json:"issues"`
	}
	if err := json.Unmarshal(rawJSON, &payload); err != nil {
		return nil, err
	}

	issues := make([]core.Issue, 0, len(payload.Issues))
	for _, issue := range payload.Issues {
		if len(issue.Locations) == 0 {
			continue // invariant: location must be present
		}
		issue.EvaluatorName = def.Name
		issue.Type = def.IssueType
		if issue.Type == core.IssueTypeError && issue.Severity == 0 {
			issue.Severity = def.DefaultSeverity
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// classifyInvokeError wraps a raw provider error in a DomainError whose
// category matches classifyFailure, so the orchestrator can bucket it into
// failedEvaluators[] without re-inspecting the message.
func classifyInvokeError(err error) error {
	switch classifyFailure(err) {
	case core.ErrCatTimeout:
		return core.ErrTimeout(err.Error()).WithCause(err)
	case core.ErrCatParsing:
		return core.ErrParsing("EVALUATOR_PARSE_FAILED", err.Error()).WithCause(err)
	case core.ErrCatFileSystem:
		return core.ErrFileSystem("EVALUATOR_FS_FAILED", err.Error()).WithCause(err)
	case core.ErrCatRepository:
		return core.ErrRepository("EVALUATOR_REPO_FAILED", err.Error()).WithCause(err)
	default:
		return core.ErrProvider("EVALUATOR_INVOKE_FAILED", err.Error(), false).WithCause(err)
	}
}

// failureKeywords maps a case-insensitive substring to the error category it
// indicates, scanned in order (first match wins), per the teacher's
// isTransientError substring-table idiom.
var failureKeywords = []struct {
	category core.ErrorCategory
	keywords []string
}{
	{core.ErrCatTimeout, []string{"timeout", "deadline exceeded", "timed out"}},
	{core.ErrCatParsing, []string{"invalid json", "parsing", "unmarshal", "malformed"}},
	{core.ErrCatFileSystem, []string{"no such file", "permission denied", "file system", "filesystem"}},
	{core.ErrCatRepository, []string{"git ", "repository", "clone", "checkout"}},
	{core.ErrCatProvider, []string{"provider", "agent", "cli", "exit status"}},
}

// classifyFailure categorizes err ∈ {timeout, parsing, file_system,
// provider, repository, internal} by case-insensitive substring scan.
func classifyFailure(err error) core.ErrorCategory {
	if err == nil {
		return core.ErrCatInternal
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range failureKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.category
			}
		}
	}
	return core.ErrCatInternal
}
