package evaluation

import "github.com/evalsvc/docreview/internal/core"

// DefaultEvaluators returns the built-in evaluator set run when a job's
// request does not narrow SelectedEvaluators. Concrete prompt wording is a
// deployment concern; these cover the error/suggestion split spec.md §2
// requires at least one evaluator of each type to exercise.
func DefaultEvaluators() []EvaluatorDef {
	return []EvaluatorDef{
		{
			Name:      "completeness-checker",
			IssueType: core.IssueTypeError,
			PromptTemplate: `You are reviewing an AI-agent instruction file for completeness.

File: {{.FilePath}}
Project languages: {{.Languages}}
Frameworks: {{.Frameworks}}

Content:
{{.FileContent}}

Report every section a file like this should have but doesn't (build/test
commands, directory layout, coding conventions). Respond with JSON only:
{"issues": [{"problem": "...", "severity": 1-10, "location": {"startLine": N, "endLine": N}}]}`,
			DefaultSeverity: 5,
		},
		{
			Name:      "accuracy-checker",
			IssueType: core.IssueTypeError,
			PromptTemplate: `You are checking an AI-agent instruction file against the actual codebase for
claims that no longer hold (stale commands, renamed files, dead links).

File: {{.FilePath}}
Architecture: {{.Architecture}}

Content:
{{.FileContent}}

Respond with JSON only:
{"issues": [{"problem": "...", "severity": 1-10, "location": {"startLine": N, "endLine": N}}]}`,
			DefaultSeverity: 6,
		},
		{
			Name:      "clarity-suggester",
			IssueType: core.IssueTypeSuggestion,
			PromptTemplate: `You are suggesting clarity and structure improvements for an AI-agent
instruction file. Do not flag factual errors, only ambiguity, verbosity, and
missing examples.

File: {{.FilePath}}
Patterns: {{.Patterns}}

Content:
{{.FileContent}}

Respond with JSON only:
{"issues": [{"problem": "...", "impactLevel": "High|Medium|Low", "location": {"startLine": N, "endLine": N}}]}`,
			DefaultSeverity: 3,
		},
	}
}

// FilterEvaluators narrows defs by cfg: an explicit SelectedEvaluators
// allow-list takes precedence over the broader EvaluatorFilter.
func FilterEvaluators(defs []EvaluatorDef, selected []string, filter core.EvaluatorFilter) []EvaluatorDef {
	if len(selected) > 0 {
		allow := make(map[string]bool, len(selected))
		for _, name := range selected {
			allow[name] = true
		}
		var out []EvaluatorDef
		for _, d := range defs {
			if allow[d.Name] {
				out = append(out, d)
			}
		}
		return out
	}

	switch filter {
	case core.FilterErrorsOnly:
		return evaluatorsOfType(defs, core.IssueTypeError)
	case core.FilterSuggestionsOnly:
		return evaluatorsOfType(defs, core.IssueTypeSuggestion)
	default:
		return defs
	}
}

func evaluatorsOfType(defs []EvaluatorDef, t core.IssueType) []EvaluatorDef {
	var out []EvaluatorDef
	for _, d := range defs {
		if d.IssueType == t {
			out = append(out, d)
		}
	}
	return out
}
