package jobs

import (
	"context"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/evaluation"
	"github.com/evalsvc/docreview/internal/remediation"
	"github.com/evalsvc/docreview/internal/storage"
)

func (m *Manager) runEvalWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.evalQueue:
			if job.IsTerminal() {
				continue // cancelled while still queued
			}
			m.runEvaluationJob(ctx, job)
		}
	}
}

func (m *Manager) runRemediationWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.remQueue:
			if job.IsTerminal() {
				continue
			}
			m.runRemediationJob(ctx, job)
		}
	}
}

func (m *Manager) runEvaluationJob(parentCtx context.Context, job *core.Job) {
	jobCtx, cancel := context.WithCancelCause(parentCtx)
	job.SetCancelFunc(cancel)
	defer m.runCleanup(job.ID)

	if err := job.Start(); err != nil {
		job.Fail(core.ErrState("START_FAILED", err.Error()))
		m.persist(job)
		return
	}
	m.persist(job)

	orch := &evaluation.Orchestrator{
		Providers:         m.providers,
		Evaluators:        m.evaluators,
		CurationModel:     m.curationModel,
		CurationThreshold: m.curationThreshold,
		Publish: func(evtType string, data map[string]any) {
			m.publish(job.ID, evtType, data)
		},
	}

	sm := core.NewEvalStateMachine()
	result, err := orch.Run(jobCtx, job, sm)
	if err != nil {
		domErr := asDomainError(err)
		job.Fail(domErr)
		m.publish(job.ID, "job.failed", map[string]any{"jobId": string(job.ID), "error": domErr.Error()})
		m.persist(job)
		return
	}

	job.EvalResult = result
	job.Complete()
	m.persist(job)

	req := job.EvalRequest
	rec := &storage.EvaluationRecord{
		ID:            string(job.ID),
		RepositoryURL: req.RepositoryURL,
		Branch:        req.Branch,
		CommitSha:     req.CommitSha,
		LocalPath:     req.LocalPath,
		Result:        result,
	}
	if err := m.evalStore.SaveEvaluation(rec); err != nil {
		m.logger.Error("failed to persist evaluation record", "jobId", string(job.ID), "error", err)
	}
}

func (m *Manager) runRemediationJob(parentCtx context.Context, job *core.Job) {
	jobCtx, cancel := context.WithCancelCause(parentCtx)
	job.SetCancelFunc(cancel)

	if err := job.Start(); err != nil {
		job.Fail(core.ErrState("START_FAILED", err.Error()))
		m.persist(job)
		return
	}
	m.persist(job)
	m.publish(job.ID, "job.started", map[string]any{"jobId": string(job.ID)})

	evalRec, err := m.evalStore.GetEvaluation(job.RemRequest.EvaluationID)
	if err != nil {
		domErr := asDomainError(err)
		job.Fail(domErr)
		m.publish(job.ID, "job.failed", map[string]any{"jobId": string(job.ID), "error": domErr.Error()})
		m.persist(job)
		return
	}

	orch := &remediation.Orchestrator{
		Providers: m.providers,
		BatchSize: m.remBatchSize,
		Publish: func(evtType string, data map[string]any) {
			m.publish(job.ID, evtType, data)
		},
	}

	result, err := orch.Run(jobCtx, job.RemRequest, evalRec.RepositoryURL, evalRec.Branch, evalRec.CommitSha, evalRec.LocalPath)
	if err != nil {
		domErr := asDomainError(err)
		job.Fail(domErr)
		m.publish(job.ID, "job.failed", map[string]any{"jobId": string(job.ID), "error": domErr.Error()})
		m.persist(job)
		return
	}

	job.RemResult = result
	job.Complete()
	m.publish(job.ID, "job.completed", map[string]any{"jobId": string(job.ID)})
	m.persist(job)

	rec := &storage.RemediationRecord{
		ID:           string(job.ID),
		EvaluationID: job.RemRequest.EvaluationID,
		Result:       result,
	}
	if err := m.remStore.SaveRemediation(rec); err != nil {
		m.logger.Error("failed to persist remediation record", "jobId", string(job.ID), "error", err)
	}
}

func asDomainError(err error) *core.DomainError {
	if de, ok := err.(*core.DomainError); ok {
		return de
	}
	return core.ErrExecution("JOB_FAILED", err.Error())
}
