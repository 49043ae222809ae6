package remediation

import (
	"sort"

	"github.com/evalsvc/docreview/internal/core"
)

// partitionIssues splits a mixed issue list into errors (sorted by severity
// descending) and suggestions (sorted High -> Medium -> Low), the ordering
// spec.md §4.7 requires for the plan/execute phases.
func partitionIssues(issues []core.Issue) (errs, suggestions []core.Issue) {
	for _, issue := range issues {
		if issue.Type == core.IssueTypeError {
			errs = append(errs, issue)
		} else {
			suggestions = append(suggestions, issue)
		}
	}

	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Severity > errs[j].Severity
	})
	sort.SliceStable(suggestions, func(i, j int) bool {
		return impactRank(suggestions[i].ImpactLevel) > impactRank(suggestions[j].ImpactLevel)
	})
	return errs, suggestions
}

func impactRank(level core.ImpactLevel) int {
	switch level {
	case core.ImpactHigh:
		return 3
	case core.ImpactMedium:
		return 2
	default:
		return 1
	}
}

// batches splits issues into fixed-size chunks of at most size, preserving
// order; the last chunk may be shorter.
func batches(issues []core.Issue, size int) [][]core.Issue {
	if size <= 0 || len(issues) == 0 {
		if len(issues) == 0 {
			return nil
		}
		size = len(issues)
	}
	var out [][]core.Issue
	for i := 0; i < len(issues); i += size {
		end := i + size
		if end > len(issues) {
			end = len(issues)
		}
		out = append(out, issues[i:end])
	}
	return out
}
