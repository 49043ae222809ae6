// Package curation implements the Curator: given more issues of one type
// than a target count, it asks a provider to rank and select the top-impact
// subset, falling back to a deterministic sort when the response can't be
// parsed. Curation only selects; it never edits issue content.
package curation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/provider"
)

// Config configures one Curate call.
type Config struct {
	TopN     int
	Model    string
	Provider provider.Provider
	Timeout  time.Duration
}

// Curate selects the top cfg.TopN issues from issues by provider-ranked
// impact. If len(issues) <= cfg.TopN, curation is skipped and nil is
// returned (the caller keeps the full set, unchanged).
func Curate(ctx context.Context, issues []core.Issue, cfg Config) (*core.CurationBlock, error) {
	if len(issues) <= cfg.TopN {
		return nil, nil
	}
	if cfg.Provider == nil {
		return fallback(issues, cfg.TopN, "no provider configured", 0, 0), nil
	}

	start := time.Now()
	prompt := buildPrompt(issues, cfg.TopN)

	res, err := cfg.Provider.Invoke(ctx, provider.InvokeOptions{
		Prompt:    prompt,
		Model:     cfg.Model,
		WriteMode: false,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return fallback(issues, cfg.TopN, fmt.Sprintf("provider error: %v", err), 0, time.Since(start).Milliseconds()), nil
	}

	indices, rationale, parseErr := parseCurationResponse(res.ResultText)
	if parseErr != nil {
		return fallback(issues, cfg.TopN, fmt.Sprintf("unparsable response: %v", parseErr), res.CostUSD, time.Since(start).Milliseconds()), nil
	}

	selected := make([]core.Issue, 0, cfg.TopN)
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > len(issues) || seen[idx] {
			continue
		}
		seen[idx] = true
		selected = append(selected, issues[idx-1])
		if len(selected) == cfg.TopN {
			break
		}
	}
	if len(selected) == 0 {
		return fallback(issues, cfg.TopN, "response selected no valid indices", res.CostUSD, time.Since(start).Milliseconds()), nil
	}

	return &core.CurationBlock{
		CuratedIssues: selected,
		Summary:       fmt.Sprintf("provider-ranked selection of %d from %d issues", len(selected), len(issues)),
		TotalReviewed: len(issues),
		Rationale:     rationale,
		CostUSD:       res.CostUSD,
		DurationMs:    time.Since(start).Milliseconds(),
	}, nil
}

// buildPrompt numbers every issue 1..N and asks for a ranked top-K selection,
// grounded on the numbered-descriptor + JSON-response shape used by
// internal/service/issues.Generator's prompt builder.
func buildPrompt(issues []core.Issue, topN int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are ranking %d code review findings by real-world impact. Select the top %d.\n\n", len(issues), topN))
	sb.WriteString("Findings:\n")
	for i, issue := range issues {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, issueLabel(issue), issue.PrimaryText()))
	}
	sb.WriteString("\nRespond with valid JSON only, no markdown fences:\n")
	sb.WriteString(`{"selectedIndices": [1, 2, 3], "rationale": "why these were chosen"}`)
	sb.WriteString("\n")
	return sb.String()
}

func issueLabel(issue core.Issue) string {
	if issue.Type == core.IssueTypeError {
		return fmt.Sprintf("error severity=%d", issue.Severity)
	}
	return fmt.Sprintf("suggestion impact=%s", issue.ImpactLevel)
}

type curationResponse struct {
	SelectedIndices []int  `json:"selectedIndices"`
	Rationale       string `json:"rationale"`
}

// parseCurationResponse strips an optional ```json fence and unmarshals the
// selection, same cleanup the teacher applies to its own LLM JSON responses.
func parseCurationResponse(output string) ([]int, string, error) {
	output = strings.TrimSpace(output)
	output = strings.TrimPrefix(output, "```json")
	output = strings.TrimPrefix(output, "```")
	output = strings.TrimSuffix(output, "```")
	output = strings.TrimSpace(output)

	var resp curationResponse
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		return nil, "", fmt.Errorf("invalid JSON: %w", err)
	}
	if len(resp.SelectedIndices) == 0 {
		return nil, "", fmt.Errorf("no selected indices in response")
	}
	return resp.SelectedIndices, resp.Rationale, nil
}

// fallback deterministically sorts by impact descending and takes the first
// topN, used when the provider is unavailable or its response can't be parsed.
func fallback(issues []core.Issue, topN int, reason string, costUSD float64, durationMs int64) *core.CurationBlock {
	sorted := make([]core.Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ImpactScore() > sorted[j].ImpactScore()
	})
	if topN > len(sorted) {
		topN = len(sorted)
	}
	return &core.CurationBlock{
		CuratedIssues: sorted[:topN],
		Summary:       fmt.Sprintf("deterministic impact-sort selection of %d from %d issues", topN, len(issues)),
		TotalReviewed: len(issues),
		Rationale:     "fallback: " + reason,
		CostUSD:       costUSD,
		DurationMs:    durationMs,
	}
}
