// Package remediation implements the Remediation Orchestrator: turning a
// curated issue list into a working-tree diff by driving an AI provider
// through four plan/execute phases (errors, then suggestions), consolidating
// colocated AGENTS.md/CLAUDE.md pairs along the way.
package remediation

import (
	"context"
	"fmt"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/provider"
	"github.com/evalsvc/docreview/internal/repository"
)

// DefaultBatchSize is the number of issues sent to the provider per
// execute-phase call, per spec.md §4.7.
const DefaultBatchSize = 50

// PublishFunc reports one remediation-level event (step.started,
// step.completed, progress), keeping this package decoupled from
// internal/sse the same way internal/evaluation is.
type PublishFunc func(evtType string, data map[string]any)

// Orchestrator runs the Remediation Orchestrator's 9-step pipeline.
type Orchestrator struct {
	Providers *provider.Registry
	BatchSize int
	Publish   PublishFunc

	invocationCount int // cumulative AI invocations, for remediation.progress
}

// Run executes the full plan/execute pipeline against req, returning the
// populated RemediationResult.
func (o *Orchestrator) Run(ctx context.Context, req *core.RemediationRequest, workspaceURL, branch, commitSha, localPath string) (*core.RemediationResult, error) {
	prov, err := o.Providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	batchSize := o.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ws, owned, err := o.step("cloning", func() (*repository.Workspace, bool, error) {
		return o.resolveWorkspace(ctx, workspaceURL, branch, commitSha, localPath)
	})
	if err != nil {
		return nil, err
	}
	if owned {
		defer func() { _ = ws.Close() }()
	}

	if err := o.runStep("checking_git", func() error {
		if owned {
			return nil // fresh clone is clean by construction
		}
		clean, err := ws.CheckClean(ctx)
		if err != nil {
			return err
		}
		if !clean {
			return core.ErrState("WORKSPACE_DIRTY", "remediation requires a clean working tree when not using an owned clone")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	issues := append([]core.Issue{}, req.Issues...)
	if err := o.runStep("consolidating_files", func() error {
		consolidated, err := o.consolidatePairs(ctx, prov, ws.Dir, issues)
		if err != nil {
			return err
		}
		issues = consolidated
		return nil
	}); err != nil {
		return nil, err
	}

	errs, suggestions := partitionIssues(issues)

	result := &core.RemediationResult{}

	var errorPlanText string
	if err := o.runStep("planning_error_fix", func() error {
		if len(errs) == 0 {
			return nil
		}
		stat, text, err := o.plan(ctx, prov, ws.Dir, errs, nil)
		if err != nil {
			return err
		}
		result.PhaseStats.ErrorPlan = stat
		errorPlanText = text
		result.ErrorPlanText = text
		return nil
	}); err != nil {
		return nil, err
	}

	var errorActions []core.RemediationAction
	if err := o.runStep("executing_error_fix", func() error {
		if len(errs) == 0 {
			return nil
		}
		stat, actions, err := o.execute(ctx, prov, ws.Dir, errs, errorPlanText, batchSize)
		if err != nil {
			return err
		}
		result.PhaseStats.ErrorExecute = stat
		errorActions = actions
		return nil
	}); err != nil {
		return nil, err
	}
	result.ActionSummary = append(result.ActionSummary, errorActions...)

	if err := o.runStep("capturing_error_diff", func() error {
		if len(errs) == 0 {
			return nil
		}
		diff, err := ws.CaptureDiff(ctx)
		if err != nil {
			return err
		}
		result.ErrorFixDiff = diff
		return nil
	}); err != nil {
		return nil, err
	}

	var suggestionPlanText string
	if err := o.runStep("planning_suggestion_enrich", func() error {
		if len(suggestions) == 0 {
			return nil
		}
		stat, text, err := o.plan(ctx, prov, ws.Dir, suggestions, actionBullets(errorActions))
		if err != nil {
			return err
		}
		result.PhaseStats.SuggestionPlan = stat
		suggestionPlanText = text
		result.SuggestionPlanText = text
		return nil
	}); err != nil {
		return nil, err
	}

	var suggestionActions []core.RemediationAction
	if err := o.runStep("executing_suggestion_enrich", func() error {
		if len(suggestions) == 0 {
			return nil
		}
		stat, actions, err := o.execute(ctx, prov, ws.Dir, suggestions, suggestionPlanText, batchSize)
		if err != nil {
			return err
		}
		result.PhaseStats.SuggestionExecute = stat
		suggestionActions = actions
		return nil
	}); err != nil {
		return nil, err
	}
	result.ActionSummary = append(result.ActionSummary, suggestionActions...)

	if err := o.runStep("capturing_diff", func() error {
		diff, err := ws.CaptureDiff(ctx)
		if err != nil {
			return err
		}
		result.FullPatch = diff
		result.FileChanges = repository.ParseUnifiedDiff(diff)
		result.TotalAdditions = repository.TotalAdditions(result.FileChanges)
		result.TotalDeletions = repository.TotalDeletions(result.FileChanges)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := o.runStep("resetting", func() error {
		return ws.Reset(ctx)
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// resolveWorkspace clones workspaceURL fresh (the common case, so the
// orchestrator always owns the checkout it mutates), or wraps localPath
// unmodified when no URL is given — the precondition step then requires
// that path's tree be clean.
func (o *Orchestrator) resolveWorkspace(ctx context.Context, workspaceURL, branch, commitSha, localPath string) (*repository.Workspace, bool, error) {
	if workspaceURL == "" {
		if localPath == "" {
			return nil, false, core.ErrInvalid("MISSING_TARGET", "remediation request has no repository url or local path")
		}
		client, err := repository.OpenLocal(localPath)
		if err != nil {
			return nil, false, err
		}
		return client, false, nil
	}
	ws, err := repository.Clone(ctx, workspaceURL, repository.CloneOptions{Branch: branch, CommitSha: commitSha})
	if err != nil {
		return nil, false, err
	}
	return ws, true, nil
}

// runStep wraps a zero-value step in the started/completed event pair.
func (o *Orchestrator) runStep(name string, fn func() error) error {
	o.publishStep(name, "started", nil)
	if err := fn(); err != nil {
		o.publishStep(name, "failed", map[string]any{"error": err.Error()})
		return err
	}
	o.publishStep(name, "completed", nil)
	return nil
}

// step is runStep's generic counterpart for steps that produce a value.
func (o *Orchestrator) step(name string, fn func() (*repository.Workspace, bool, error)) (*repository.Workspace, bool, error) {
	o.publishStep(name, "started", nil)
	ws, owned, err := fn()
	if err != nil {
		o.publishStep(name, "failed", map[string]any{"error": err.Error()})
		return nil, false, err
	}
	o.publishStep(name, "completed", nil)
	return ws, owned, nil
}

func (o *Orchestrator) publishStep(name, phase string, data map[string]any) {
	if o.Publish == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["step"] = name
	o.Publish(fmt.Sprintf("remediation.step.%s", phase), data)
}

func (o *Orchestrator) publishProgress(extra map[string]any) {
	o.invocationCount++
	if o.Publish == nil {
		return
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["invocations"] = o.invocationCount
	o.Publish("remediation.progress", extra)
}
