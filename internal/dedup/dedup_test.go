package dedup

import (
	"testing"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueAt(file string, start, end int, problem string, severity int) core.Issue {
	return core.Issue{
		Type:     core.IssueTypeError,
		Problem:  problem,
		Severity: severity,
		Locations: []core.Location{
			{File: file, StartLine: start, EndLine: end},
		},
	}
}

func TestDeduplicate_MergesOverlappingSimilarIssues(t *testing.T) {
	issues := []core.Issue{
		issueAt("main.go", 10, 12, "SQL query is built with string concatenation, vulnerable to injection", 9),
		issueAt("main.go", 11, 13, "SQL query is built with string concatenation vulnerable to injection", 8),
		issueAt("handler.go", 40, 42, "missing nil check before dereferencing response", 5),
	}

	result := Deduplicate(issues, DefaultOptions())

	require.Len(t, result.Kept, 2)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, len(issues), len(result.Kept)+len(result.Removed))

	// the higher-severity duplicate survives
	var kept bool
	for _, k := range result.Kept {
		if k.Severity == 9 {
			kept = true
		}
	}
	assert.True(t, kept)
}

func TestDeduplicate_KeepsUnrelatedIssuesSeparate(t *testing.T) {
	issues := []core.Issue{
		issueAt("a.go", 1, 2, "unused import", 3),
		issueAt("b.go", 100, 105, "deeply nested loop harms readability", 4),
	}

	result := Deduplicate(issues, DefaultOptions())

	assert.Len(t, result.Kept, 2)
	assert.Empty(t, result.Removed)
}

func TestDeduplicate_LocationOverlapWithoutTextMatchIsLocationCandidate(t *testing.T) {
	issues := []core.Issue{
		issueAt("main.go", 10, 12, "missing error check on write", 6),
		issueAt("main.go", 11, 13, "variable name shadows package import", 4),
	}

	result := Deduplicate(issues, DefaultOptions())

	assert.Len(t, result.Kept, 2, "dissimilar text in an overlapping location should not merge")
	require.Len(t, result.LocationCandidates, 1)
	assert.ElementsMatch(t, []int{0, 1}, result.LocationCandidates[0].Indices)
}

func TestDeduplicate_PreservesCountInvariant(t *testing.T) {
	issues := []core.Issue{
		issueAt("x.go", 1, 2, "leaking file handle, never closed", 7),
		issueAt("x.go", 1, 3, "file handle leak, close is never called", 7),
		issueAt("x.go", 1, 2, "file handle leaks because close is missing", 6),
		issueAt("y.go", 50, 51, "off by one in loop bound", 5),
	}

	result := Deduplicate(issues, DefaultOptions())

	assert.Equal(t, len(issues), len(result.Kept)+len(result.Removed))
}

func TestDetectEntityCandidates_GroupsByToken(t *testing.T) {
	issues := []core.Issue{
		issueAt("db.go", 1, 2, "raw postgres connection string is hardcoded", 5),
		issueAt("config.go", 10, 11, "postgres credentials committed to source", 6),
		issueAt("util.go", 3, 4, "unused helper function", 1),
	}

	candidates := detectEntityCandidates(issues)

	require.Len(t, candidates, 1)
	assert.Equal(t, "postgres", candidates[0].Token)
	assert.ElementsMatch(t, []int{0, 1}, candidates[0].Indices)
}

func TestClusterByLocation_RespectsFileBoundary(t *testing.T) {
	issues := []core.Issue{
		issueAt("a.go", 10, 12, "issue one", 5),
		issueAt("b.go", 10, 12, "issue two", 5),
	}

	clusters := clusterByLocation(issues, DefaultLocationTolerance)

	require.Len(t, clusters, 2)
}
