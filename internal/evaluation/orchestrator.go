package evaluation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/evalsvc/docreview/internal/analysis"
	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/curation"
	"github.com/evalsvc/docreview/internal/dedup"
	"github.com/evalsvc/docreview/internal/discovery"
	"github.com/evalsvc/docreview/internal/provider"
	"github.com/evalsvc/docreview/internal/repository"
)

// DefaultConcurrency is the worker-pool width used when a request doesn't
// specify one, matching spec.md §4.6's "typically 4".
const DefaultConcurrency = 4

// DefaultCurationThreshold is the per-issue-type count above which curation
// runs instead of being skipped, per spec.md §4.6.
const DefaultCurationThreshold = 30

// PublishFunc reports one orchestrator-level event. evtType matches the
// sse.EventType wire names (job.started, clone.completed, ...); evaluation
// stays decoupled from internal/sse so it can be unit tested without a bus.
type PublishFunc func(evtType string, data map[string]any)

// Orchestrator runs the Evaluation Orchestrator's full pipeline: clone,
// discover, analyze context, fan out evaluator x file tasks through a
// bounded worker pool, then dedup and curate the merged issue list.
type Orchestrator struct {
	Providers         *provider.Registry
	Evaluators        []EvaluatorDef
	CurationModel     string
	CurationThreshold int
	Publish           PublishFunc
}

// evalTask is one unit of fan-out work: one evaluator against one target.
type evalTask struct {
	def    EvaluatorDef
	file   string // empty in unified mode
	target *Target
}

// Run executes the full pipeline for job, driving job's EvalStateMachine
// through every phase and returning the populated EvaluationResult, or a
// *core.DomainError on failure. ctx cancellation is honored at every phase
// boundary and at every provider invocation.
func (o *Orchestrator) Run(ctx context.Context, job *core.Job, sm *core.EvalStateMachine) (*core.EvaluationResult, error) {
	req := job.EvalRequest
	start := time.Now()
	o.publish(job.ID, "job.started", map[string]any{"jobId": string(job.ID)})

	prov, err := o.Providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	workDir, cleanup, cloneDuration, err := o.resolveWorkspace(ctx, job, sm, req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := o.checkCancel(ctx, sm); err != nil {
		return nil, err
	}

	if err := sm.Transition(core.EvalPhaseDiscovery); err != nil {
		return nil, core.ErrState("BAD_TRANSITION", err.Error())
	}
	o.publish(job.ID, "discovery.started", nil)
	discovered, err := discovery.Discover(workDir)
	if err != nil {
		return nil, err
	}
	o.publish(job.ID, "discovery.completed", map[string]any{"fileCount": len(discovered.Files)})

	if err := o.checkCancel(ctx, sm); err != nil {
		return nil, err
	}

	if err := sm.Transition(core.EvalPhaseContext); err != nil {
		return nil, core.ErrState("BAD_TRANSITION", err.Error())
	}
	projectContext := o.analyzeContext(ctx, job.ID, workDir, prov, req, discovered)

	if err := o.checkCancel(ctx, sm); err != nil {
		return nil, err
	}

	if err := sm.Transition(core.EvalPhaseEvaluating); err != nil {
		return nil, core.ErrState("BAD_TRANSITION", err.Error())
	}
	evaluators := FilterEvaluators(o.evaluatorDefs(), req.SelectedEvaluators, req.EvaluatorFilter)
	results, failed, err := o.evaluate(ctx, job, workDir, projectContext, evaluators)
	if err != nil {
		return nil, err
	}

	if err := o.checkCancel(ctx, sm); err != nil {
		return nil, err
	}

	if err := sm.Transition(core.EvalPhaseAggregating); err != nil {
		return nil, core.ErrState("BAD_TRANSITION", err.Error())
	}
	evalResult := o.aggregate(req, discovered, projectContext, results, failed, start)

	if err := sm.Transition(core.EvalPhaseDeduplicating); err != nil {
		return nil, core.ErrState("BAD_TRANSITION", err.Error())
	}
	allIssues := evalResult.AllIssues()
	dedupResult := dedup.Deduplicate(allIssues, dedup.DefaultOptions())

	if err := sm.Transition(core.EvalPhaseCurating); err != nil {
		return nil, core.ErrState("BAD_TRANSITION", err.Error())
	}
	curationOut, err := o.curate(ctx, job.ID, prov, dedupResult.Kept)
	if err != nil {
		return nil, err
	}
	evalResult.Metadata.Curation = curationOut

	if err := sm.Transition(core.EvalPhaseFinalizing); err != nil {
		return nil, core.ErrState("BAD_TRANSITION", err.Error())
	}
	evalResult.Metadata.TotalDurationMs = time.Since(start).Milliseconds()
	_ = cloneDuration

	if err := sm.Transition(core.EvalPhaseCompleted); err != nil {
		return nil, core.ErrState("BAD_TRANSITION", err.Error())
	}
	o.publish(job.ID, "job.completed", map[string]any{"jobId": string(job.ID), "issueCount": evalResult.CountIssues()})

	return evalResult, nil
}

// resolveWorkspace clones req.RepositoryURL into a temp directory, or uses
// req.LocalPath unmodified when no URL is given.
func (o *Orchestrator) resolveWorkspace(ctx context.Context, job *core.Job, sm *core.EvalStateMachine, req *core.EvaluationRequest) (string, func(), time.Duration, error) {
	if req.RepositoryURL == "" {
		if req.LocalPath == "" {
			return "", func() {}, 0, core.ErrInvalid("MISSING_TARGET", "evaluation request has no repositoryUrl or localPath")
		}
		if err := sm.Transition(core.EvalPhaseCloning); err != nil {
			return "", nil, 0, core.ErrState("BAD_TRANSITION", err.Error())
		}
		return req.LocalPath, func() {}, 0, nil
	}

	if err := sm.Transition(core.EvalPhaseCloning); err != nil {
		return "", nil, 0, core.ErrState("BAD_TRANSITION", err.Error())
	}
	o.publish(job.ID, "clone.started", map[string]any{"repositoryUrl": req.RepositoryURL})
	ws, err := repository.Clone(ctx, req.RepositoryURL, repository.CloneOptions{
		Branch:    req.Branch,
		CommitSha: req.CommitSha,
		Timeout:   req.Timeout,
	})
	if err != nil {
		return "", nil, 0, err
	}
	o.publish(job.ID, "clone.completed", map[string]any{"durationMs": ws.CloneDuration().Milliseconds()})
	return ws.Dir, func() { _ = ws.Close() }, ws.CloneDuration(), nil
}

func (o *Orchestrator) analyzeContext(ctx context.Context, jobID core.JobID, workDir string, prov provider.Provider, req *core.EvaluationRequest, discovered discovery.Result) core.ProjectContext {
	knownPaths := make([]string, 0, len(discovered.Files))
	for _, f := range discovered.Files {
		knownPaths = append(knownPaths, f.Path)
	}
	result := analysis.Analyze(ctx, analysis.Options{
		WorkDir:       workDir,
		Timeout:       req.Timeout,
		KnownDocPaths: knownPaths,
		Provider:      prov,
		InvokeModel:   req.Provider,
		OnProgress: func(event string, data map[string]any) {
			o.publish(jobID, event, data)
		},
	})
	result.ProjectContext.ColocatedPairs = discovered.ColocatedPairs
	return result.ProjectContext
}

func (o *Orchestrator) evaluatorDefs() []EvaluatorDef {
	if len(o.Evaluators) > 0 {
		return o.Evaluators
	}
	return DefaultEvaluators()
}

// evaluate fans out every (evaluator, file) pair in independent mode, or one
// task per evaluator in unified mode, through a worker pool bounded by
// req.Concurrency (default DefaultConcurrency).
func (o *Orchestrator) evaluate(ctx context.Context, job *core.Job, workDir string, pc core.ProjectContext, evaluators []EvaluatorDef) (*evalOutcome, []core.FailedEvaluator, error) {
	req := job.EvalRequest
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	tasks, err := o.buildTasks(workDir, pc, req.Mode, evaluators)
	if err != nil {
		return nil, nil, err
	}

	prov, err := o.Providers.Get(req.Provider)
	if err != nil {
		return nil, nil, err
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	outcome := newEvalOutcome(req.Mode)
	var failed []core.FailedEvaluator

	for _, task := range tasks {
		task := task
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			o.publish(job.ID, "file.started", map[string]any{"file": task.file, "evaluator": task.def.Name})
			runner := &Runner{
				Provider: prov,
				Model:    req.Provider,
				Timeout:  req.Timeout,
				OnProgress: func(event string, data map[string]any) {
					data["file"] = task.file
					o.publish(job.ID, event, data)
				},
			}
			res, runErr := runner.Run(gctx, task.def, task.target)

			mu.Lock()
			defer mu.Unlock()
			if runErr != nil {
				failed = append(failed, core.FailedEvaluator{
					EvaluatorName: task.def.Name,
					File:          task.file,
					Category:      core.GetCategory(runErr),
					Message:       runErr.Error(),
				})
				return nil // non-fatal: one evaluator failing doesn't fail the job
			}
			outcome.add(task.file, core.EvaluatorResult{
				EvaluatorName: task.def.Name,
				RawResponse:   res.RawResponse,
				Issues:        res.Issues,
				DurationMs:    res.DurationMs,
				CostUSD:       res.CostUSD,
			})
			o.publish(job.ID, "file.completed", map[string]any{"file": task.file, "evaluator": task.def.Name})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return outcome, failed, nil
}

func (o *Orchestrator) buildTasks(workDir string, pc core.ProjectContext, mode core.EvaluationMode, evaluators []EvaluatorDef) ([]evalTask, error) {
	var tasks []evalTask

	if mode == core.ModeUnified {
		content, err := concatFiles(workDir)
		if err != nil {
			return nil, err
		}
		for _, def := range evaluators {
			tasks = append(tasks, evalTask{def: def, target: &Target{FileContent: content, ProjectContext: pc}})
		}
		return tasks, nil
	}

	files, err := listTargetFiles(workDir)
	if err != nil {
		return nil, err
	}
	for _, def := range evaluators {
		for _, rel := range files {
			content, err := os.ReadFile(filepath.Join(workDir, rel)) // #nosec G304 -- rel comes from our own discovery walk
			if err != nil {
				continue
			}
			tasks = append(tasks, evalTask{
				def:    def,
				file:   rel,
				target: &Target{FilePath: rel, FileContent: string(content), ProjectContext: pc},
			})
		}
	}
	return tasks, nil
}

// listTargetFiles reuses discovery's own walk rather than re-implementing
// it, since the evaluator's target set is exactly the set discovery found.
func listTargetFiles(workDir string) ([]string, error) {
	result, err := discovery.Discover(workDir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(result.Files))
	for _, f := range result.Files {
		files = append(files, f.Path)
	}
	sort.Strings(files)
	return files, nil
}

func concatFiles(workDir string) (string, error) {
	files, err := listTargetFiles(workDir)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, rel := range files {
		content, err := os.ReadFile(filepath.Join(workDir, rel)) // #nosec G304 -- rel comes from our own discovery walk
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", rel, content)
	}
	return sb.String(), nil
}

// evalOutcome accumulates fan-out results in the shape EvaluationResult's
// mode dictates.
type evalOutcome struct {
	mode            core.EvaluationMode
	results         []core.EvaluatorResult
	files           map[string]*core.FileEvaluations
	crossFileIssues []core.Issue
}

func newEvalOutcome(mode core.EvaluationMode) *evalOutcome {
	return &evalOutcome{mode: mode, files: make(map[string]*core.FileEvaluations)}
}

func (o *evalOutcome) add(file string, res core.EvaluatorResult) {
	var crossFile []core.Issue
	var local []core.Issue
	for _, issue := range res.Issues {
		if issue.IsCrossFile() {
			crossFile = append(crossFile, issue)
		} else {
			local = append(local, issue)
		}
	}
	res.Issues = local
	o.crossFileIssues = append(o.crossFileIssues, crossFile...)

	if o.mode == core.ModeUnified {
		o.results = append(o.results, res)
		return
	}
	fe, ok := o.files[file]
	if !ok {
		fe = &core.FileEvaluations{}
		o.files[file] = fe
	}
	fe.Evaluations = append(fe.Evaluations, res)
	fe.IssueCount += len(res.Issues)
}

func (o *Orchestrator) aggregate(req *core.EvaluationRequest, discovered discovery.Result, pc core.ProjectContext, outcome *evalOutcome, failed []core.FailedEvaluator, start time.Time) *core.EvaluationResult {
	var totalCost float64
	var totalDurationMs int64
	countResults := func(results []core.EvaluatorResult) {
		for _, r := range results {
			totalCost += r.CostUSD
			totalDurationMs += r.DurationMs
		}
	}
	countResults(outcome.results)
	for _, fe := range outcome.files {
		countResults(fe.Evaluations)
	}

	result := &core.EvaluationResult{
		Metadata: core.EvaluationMetadata{
			GeneratedAt:      time.Now(),
			Provider:         req.Provider,
			Mode:             req.Mode,
			TotalFiles:       len(discovered.Files),
			ProjectContext:   pc,
			TotalCostUSD:     totalCost,
			TotalDurationMs:  totalDurationMs,
			FailedEvaluators: failed,
		},
		Results:         outcome.results,
		Files:           outcome.files,
		CrossFileIssues: outcome.crossFileIssues,
	}
	return result
}

// curate runs the Curator independently for errors and suggestions, each
// gated by o.CurationThreshold (default DefaultCurationThreshold).
func (o *Orchestrator) curate(ctx context.Context, jobID core.JobID, prov provider.Provider, issues []core.Issue) (*core.CurationOutput, error) {
	threshold := o.CurationThreshold
	if threshold <= 0 {
		threshold = DefaultCurationThreshold
	}

	var errs, suggestions []core.Issue
	for _, issue := range issues {
		if issue.Type == core.IssueTypeError {
			errs = append(errs, issue)
		} else {
			suggestions = append(suggestions, issue)
		}
	}

	out := &core.CurationOutput{}
	o.publish(jobID, "curation.started", map[string]any{"type": "errors"})
	errBlock, err := curation.Curate(ctx, errs, curation.Config{TopN: threshold, Model: o.CurationModel, Provider: prov})
	if err != nil {
		return nil, err
	}
	out.Errors = errBlock
	o.publish(jobID, "curation.completed", map[string]any{"type": "errors"})

	o.publish(jobID, "curation.started", map[string]any{"type": "suggestions"})
	sugBlock, err := curation.Curate(ctx, suggestions, curation.Config{TopN: threshold, Model: o.CurationModel, Provider: prov})
	if err != nil {
		return nil, err
	}
	out.Suggestions = sugBlock
	o.publish(jobID, "curation.completed", map[string]any{"type": "suggestions"})

	return out, nil
}

func (o *Orchestrator) checkCancel(ctx context.Context, sm *core.EvalStateMachine) error {
	select {
	case <-ctx.Done():
		_ = sm.Transition(core.EvalPhaseCancelled)
		return core.ErrCancelled("evaluation cancelled")
	default:
		return nil
	}
}

func (o *Orchestrator) publish(jobID core.JobID, evtType string, data map[string]any) {
	if o.Publish == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["jobId"] = string(jobID)
	o.Publish(evtType, data)
}
