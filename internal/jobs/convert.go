package jobs

import (
	"encoding/json"
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

// parseEvaluationOptions decodes the HTTP layer's loosely-typed options map
// (JSON numbers arrive as float64, durations as seconds) into a typed
// EvaluationRequest. Unknown keys are ignored; missing keys keep the
// orchestrator's own defaults.
func parseEvaluationOptions(repositoryURL string, options map[string]interface{}) *core.EvaluationRequest {
	req := &core.EvaluationRequest{
		RepositoryURL: repositoryURL,
		Mode:          core.ModeIndependent,
		EvaluatorFilter: core.FilterAll,
	}
	if options == nil {
		return req
	}
	if v, ok := options["localPath"].(string); ok {
		req.LocalPath = v
	}
	if v, ok := options["branch"].(string); ok {
		req.Branch = v
	}
	if v, ok := options["commitSha"].(string); ok {
		req.CommitSha = v
	}
	if v, ok := options["provider"].(string); ok {
		req.Provider = v
	}
	if v, ok := options["mode"].(string); ok {
		switch core.EvaluationMode(v) {
		case core.ModeUnified, core.ModeIndependent:
			req.Mode = core.EvaluationMode(v)
		}
	}
	if v, ok := options["evaluatorFilter"].(string); ok {
		switch core.EvaluatorFilter(v) {
		case core.FilterAll, core.FilterErrorsOnly, core.FilterSuggestionsOnly:
			req.EvaluatorFilter = core.EvaluatorFilter(v)
		}
	}
	if v, ok := options["concurrency"].(float64); ok {
		req.Concurrency = int(v)
	}
	if v, ok := options["timeoutSeconds"].(float64); ok {
		req.Timeout = time.Duration(v) * time.Second
	}
	req.Evaluators = stringSlice(options["evaluators"])
	req.SelectedEvaluators = stringSlice(options["selectedEvaluators"])
	return req
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// decodeIssues round-trips the HTTP layer's []interface{} issue payload
// (already-unmarshalled generic JSON) into typed core.Issue values via
// Issue's own custom (Un)MarshalJSON, so the singular/array `location`
// normalization applies uniformly regardless of transport.
func decodeIssues(raw []interface{}) ([]core.Issue, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	blob, err := json.Marshal(raw)
	if err != nil {
		return nil, core.ErrInvalid("ISSUES_ENCODE_FAILED", err.Error())
	}
	var issues []core.Issue
	if err := json.Unmarshal(blob, &issues); err != nil {
		return nil, core.ErrInvalid("ISSUES_DECODE_FAILED", err.Error())
	}
	return issues, nil
}

func parseTargetAgent(v string) core.TargetAgent {
	switch core.TargetAgent(v) {
	case core.TargetAgentsMD, core.TargetClaudeCode, core.TargetGitHubCopilot, core.TargetCursor:
		return core.TargetAgent(v)
	default:
		return core.TargetAgentsMD
	}
}
