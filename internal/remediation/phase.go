package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/evaluation"
	"github.com/evalsvc/docreview/internal/provider"
)

// plan runs a single, whole-phase read-only invocation that asks the
// provider to produce a remediation plan document for issues, optionally
// seeded with a bullet summary of a prior phase's actions (used by the
// suggestion-enrich phase to see what error-fixing already touched).
func (o *Orchestrator) plan(ctx context.Context, prov provider.Provider, workDir string, issues []core.Issue, priorActionBullets []string) (*core.PhaseStat, string, error) {
	prompt := buildPlanPrompt(issues, priorActionBullets)

	start := time.Now()
	res, err := prov.Invoke(ctx, provider.InvokeOptions{Prompt: prompt, Cwd: workDir, WriteMode: false})
	o.publishProgress(map[string]any{"phase": "plan", "issueCount": len(issues)})
	if err != nil {
		return nil, "", classifyProviderError(err)
	}

	return &core.PhaseStat{
		Prompt:     prompt,
		DurationMs: time.Since(start).Milliseconds(),
		CostUSD:    res.CostUSD,
		TokensIn:   res.Usage.Input,
		TokensOut:  res.Usage.Output,
	}, res.ResultText, nil
}

// execute drives the write-mode phase in batches of batchSize issues,
// accumulating one PhaseStat across every batch and remapping each parsed
// action's IssueIndex from batch-local to the phase's global issue index.
func (o *Orchestrator) execute(ctx context.Context, prov provider.Provider, workDir string, issues []core.Issue, planText string, batchSize int) (*core.PhaseStat, []core.RemediationAction, error) {
	stat := &core.PhaseStat{}
	var actions []core.RemediationAction

	for batchIndex, batch := range batches(issues, batchSize) {
		prompt := buildExecutePrompt(batch, planText)

		start := time.Now()
		res, err := prov.Invoke(ctx, provider.InvokeOptions{Prompt: prompt, Cwd: workDir, WriteMode: true})
		o.publishProgress(map[string]any{"phase": "execute", "batch": batchIndex, "batchSize": len(batch)})
		if err != nil {
			return nil, nil, classifyProviderError(err)
		}

		stat.DurationMs += time.Since(start).Milliseconds()
		stat.CostUSD += res.CostUSD
		stat.TokensIn += res.Usage.Input
		stat.TokensOut += res.Usage.Output
		if stat.Prompt == "" {
			stat.Prompt = prompt
		}

		batchActions, err := parseActions(res.ResultText)
		if err != nil {
			continue // a batch producing no parseable action summary is non-fatal; the diff still reflects what it wrote
		}
		for i := range batchActions {
			batchActions[i].IssueIndex += batchIndex * batchSize
		}
		actions = append(actions, batchActions...)
	}

	return stat, actions, nil
}

func buildPlanPrompt(issues []core.Issue, priorActionBullets []string) string {
	var sb strings.Builder
	sb.WriteString("You are planning fixes for the following documentation issues. List, for\n")
	sb.WriteString("each issue index, what change you intend to make and to which file. Do not\n")
	sb.WriteString("write any files yet.\n\n")
	if len(priorActionBullets) > 0 {
		sb.WriteString("Already applied in an earlier phase:\n")
		for _, b := range priorActionBullets {
			fmt.Fprintf(&sb, "- %s\n", b)
		}
		sb.WriteString("\n")
	}
	writeIssueList(&sb, issues)
	return sb.String()
}

func buildExecutePrompt(issues []core.Issue, planText string) string {
	var sb strings.Builder
	sb.WriteString("Apply the fixes below directly to the repository's files. After writing,\n")
	sb.WriteString("respond with JSON only describing what you did:\n")
	sb.WriteString(`{"actions": [{"issueIndex": N, "status": "fixed|added|skipped", "file": "...", "outputType": "standard|skill|generic", "shortSummary": "..."}]}` + "\n\n")
	if planText != "" {
		sb.WriteString("Plan from the previous step:\n")
		sb.WriteString(planText)
		sb.WriteString("\n\n")
	}
	writeIssueList(&sb, issues)
	return sb.String()
}

func writeIssueList(sb *strings.Builder, issues []core.Issue) {
	sb.WriteString("Issues:\n")
	for i, issue := range issues {
		file := ""
		if len(issue.Locations) > 0 {
			file = issue.Locations[0].File
		}
		fmt.Fprintf(sb, "%d. [%s] %s (file: %s)\n", i, issue.Type, issue.PrimaryText(), file)
	}
}

// actionBullets renders a short bullet per action for embedding in the next
// phase's plan prompt.
func actionBullets(actions []core.RemediationAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		summary := a.ShortSummary
		if summary == "" {
			summary = string(a.Status)
		}
		out = append(out, fmt.Sprintf("%s: %s", a.File, summary))
	}
	return out
}

func parseActions(text string) ([]core.RemediationAction, error) {
	raw, err := evaluation.ExtractActionsJSON(text)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Actions []core.RemediationAction `json:"actions"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload.Actions, nil
}

func classifyProviderError(err error) error {
	if de, ok := err.(*core.DomainError); ok {
		return de
	}
	return core.ErrProvider("REMEDIATION_INVOKE_FAILED", err.Error(), false).WithCause(err)
}
