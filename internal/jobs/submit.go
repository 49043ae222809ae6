package jobs

import (
	"context"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/provider"
	"github.com/evalsvc/docreview/internal/repository"
)

// SubmitEvaluation admits a new evaluation job, implementing
// api.JobSubmitter. A remediationId option (used by the
// /remediation/{id}/evaluate follow-up route) takes precedence over
// repositoryURL: it resolves the originating evaluation's repository
// coordinates, clones fresh, and applies the remediation's patch so the
// follow-up evaluation measures the remediated tree rather than the
// original one.
func (m *Manager) SubmitEvaluation(ctx context.Context, repositoryURL string, options map[string]interface{}) (string, error) {
	var req *core.EvaluationRequest
	var cleanup func()

	if remID, ok := options["remediationId"].(string); ok && remID != "" {
		resolved, cleanupFn, err := m.resolveFollowupTarget(ctx, remID)
		if err != nil {
			return "", err
		}
		req = resolved
		cleanup = cleanupFn
	} else {
		req = parseEvaluationOptions(repositoryURL, options)
	}

	if req.Provider == "" {
		req.Provider = defaultProviderName(m.providers)
	}

	id := newJobID()
	job := core.NewEvaluationJob(id, req)
	if err := job.Validate(); err != nil {
		if cleanup != nil {
			cleanup()
		}
		return "", err
	}

	if cleanup != nil {
		m.setCleanup(id, cleanup)
	}
	m.track(job)
	m.persist(job)

	select {
	case m.evalQueue <- job:
		return string(id), nil
	default:
		job.Fail(core.ErrQueueFull("evaluation"))
		m.persist(job)
		m.runCleanup(id)
		return "", core.ErrQueueFull("evaluation")
	}
}

// resolveFollowupTarget reconstructs the repository a remediation job
// touched, clones it fresh, and reapplies the stored patch, returning a
// LocalPath-only EvaluationRequest and a cleanup func the caller must run
// once the job using it reaches a terminal state.
func (m *Manager) resolveFollowupTarget(ctx context.Context, remediationID string) (*core.EvaluationRequest, func(), error) {
	remRec, err := m.remStore.GetRemediation(remediationID)
	if err != nil {
		return nil, nil, err
	}
	evalRec, err := m.evalStore.GetEvaluation(remRec.EvaluationID)
	if err != nil {
		return nil, nil, err
	}
	if evalRec.RepositoryURL == "" {
		return nil, nil, core.ErrInvalid("NO_REPOSITORY", "originating evaluation has no repository URL to re-clone")
	}

	ws, err := repository.Clone(ctx, evalRec.RepositoryURL, repository.CloneOptions{
		Branch:    evalRec.Branch,
		CommitSha: evalRec.CommitSha,
	})
	if err != nil {
		return nil, nil, err
	}
	if remRec.Result != nil && remRec.Result.FullPatch != "" {
		if err := ws.ApplyPatch(ctx, remRec.Result.FullPatch); err != nil {
			_ = ws.Close()
			return nil, nil, err
		}
	}

	req := &core.EvaluationRequest{
		LocalPath:       ws.Dir,
		Mode:            core.ModeIndependent,
		EvaluatorFilter: core.FilterAll,
	}
	return req, func() { _ = ws.Close() }, nil
}

// SubmitRemediation admits a new remediation job, implementing
// api.JobSubmitter. The originating evaluation's stored repository
// coordinates are threaded through so the worker can clone without the
// caller repeating them.
func (m *Manager) SubmitRemediation(ctx context.Context, evaluationID string, issues []interface{}, targetAgent, provider string) (string, error) {
	evalRec, err := m.evalStore.GetEvaluation(evaluationID)
	if err != nil {
		return "", err
	}

	parsedIssues, err := decodeIssues(issues)
	if err != nil {
		return "", err
	}

	req := &core.RemediationRequest{
		EvaluationID: evaluationID,
		Issues:       parsedIssues,
		TargetAgent:  parseTargetAgent(targetAgent),
		Provider:     provider,
	}
	if req.Provider == "" {
		req.Provider = defaultProviderName(m.providers)
	}

	id := newJobID()
	job := core.NewRemediationJob(id, req)
	job.RepositoryURL = evalRec.RepositoryURL
	if err := job.Validate(); err != nil {
		return "", err
	}

	m.setCleanup(id, func() {}) // placeholder overwritten by the worker once it resolves a workspace
	m.track(job)
	m.persist(job)

	select {
	case m.remQueue <- job:
		return string(id), nil
	default:
		job.Fail(core.ErrQueueFull("remediation"))
		m.persist(job)
		return "", core.ErrQueueFull("remediation")
	}
}

// Status implements api.JobSubmitter, returning a JSON-serializable
// snapshot of a job's lifecycle state.
func (m *Manager) Status(jobID string) (interface{}, bool) {
	m.mu.RLock()
	job, ok := m.jobs[core.JobID(jobID)]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return newJobStatus(job), true
}

// Cancel implements api.JobSubmitter. A queued job is marked cancelled
// directly since no worker has started a cancellable context for it yet; a
// running job's wired cancel func is invoked instead.
func (m *Manager) Cancel(jobID string) error {
	m.mu.RLock()
	job, ok := m.jobs[core.JobID(jobID)]
	m.mu.RUnlock()
	if !ok {
		return core.ErrNotFound("job", jobID)
	}
	if job.IsTerminal() {
		return core.ErrInvalid("ALREADY_TERMINAL", "job already reached a terminal state: "+string(job.Status))
	}
	if job.Status == core.JobStatusQueued {
		job.CancelTerminal()
		m.persist(job)
		m.runCleanup(job.ID)
		return nil
	}
	job.Cancel(core.ErrCancelled("job cancelled by caller"))
	return nil
}

// defaultProviderName picks an arbitrary registered provider when a request
// doesn't name one, so a single-provider deployment never has to specify it.
func defaultProviderName(registry *provider.Registry) string {
	names := registry.List()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
