// Package jobs implements the Job Manager (H1): two bounded queue/worker-pool
// pairs (one per JobKind), job lifecycle bookkeeping, SSE event wiring, and
// the persistence hooks the Evaluation and Remediation Orchestrators need.
// Grounded on the teacher's internal/service/workflow.Runner worker-pool
// construction, generalized from workflow tasks to evaluation/remediation
// jobs.
package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/evaluation"
	"github.com/evalsvc/docreview/internal/provider"
	"github.com/evalsvc/docreview/internal/storage"
	"github.com/evalsvc/docreview/internal/sse"
)

const (
	// DefaultQueueCapacity is Q in spec.md §4.10: the bounded channel depth
	// per job kind before Submit starts returning QUEUE_FULL.
	DefaultQueueCapacity = 10
	// DefaultEvalWorkers is W_eval.
	DefaultEvalWorkers = 2
	// DefaultRemediationWorkers is W_remediate.
	DefaultRemediationWorkers = 1
)

// JobStore is the Job Manager's persistence hook: enough to recover from a
// restart without losing track of what was in flight. internal/storage.Store
// is the default, sqlite-backed implementation.
type JobStore interface {
	SaveJob(job *core.Job) error
	LoadJob(id string) (*core.Job, error)
	ListIncomplete() ([]*core.Job, error)
}

// EvaluationRecorder persists a completed evaluation alongside the
// repository coordinates that produced it, so a later remediation request
// can resolve what to clone from nothing but an evaluation ID.
type EvaluationRecorder interface {
	SaveEvaluation(rec *storage.EvaluationRecord) error
	GetEvaluation(id string) (*storage.EvaluationRecord, error)
	ImportEvaluation(record interface{}) (string, error)
}

// RemediationRecorder persists a completed remediation.
type RemediationRecorder interface {
	SaveRemediation(rec *storage.RemediationRecord) error
	GetRemediation(id string) (*storage.RemediationRecord, error)
	PatchFor(id string) (string, error)
}

// Manager owns the two job queues, their worker pools, and every job's
// in-memory lifecycle state. It implements api.JobSubmitter plus
// api.EvaluationStore/api.RemediationStore (via Get/Import/Patch), so a
// single Manager wires the whole HTTP surface in cmd/evaluator.
type Manager struct {
	store      JobStore
	evalStore  EvaluationRecorder
	remStore   RemediationRecorder
	providers  *provider.Registry
	bus        *sse.Bus
	logger     *slog.Logger

	evaluators        []evaluation.EvaluatorDef
	curationModel     string
	curationThreshold int
	remBatchSize      int

	evalQueue chan *core.Job
	remQueue  chan *core.Job

	mu        sync.RWMutex
	jobs      map[core.JobID]*core.Job
	cleanups  map[core.JobID]func()

	wg sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithEvaluators overrides the evaluator set every evaluation job runs
// (defaults to evaluation.DefaultEvaluators()).
func WithEvaluators(defs []evaluation.EvaluatorDef) Option {
	return func(m *Manager) { m.evaluators = defs }
}

// WithCurationModel sets the model used for curation's own invocations.
func WithCurationModel(model string) Option {
	return func(m *Manager) { m.curationModel = model }
}

// WithCurationThreshold overrides the per-issue-type count above which
// curation runs (evaluation.DefaultCurationThreshold otherwise).
func WithCurationThreshold(threshold int) Option {
	return func(m *Manager) { m.curationThreshold = threshold }
}

// WithRemediationBatchSize overrides the issue-batch size the Remediation
// Orchestrator's execute phase uses (remediation.DefaultBatchSize otherwise).
func WithRemediationBatchSize(size int) Option {
	return func(m *Manager) { m.remBatchSize = size }
}

// NewManager constructs a Manager backed by store for job persistence,
// evalStore/remStore for record persistence, providers for agent lookup,
// and bus for SSE fan-out.
func NewManager(store JobStore, evalStore EvaluationRecorder, remStore RemediationRecorder, providers *provider.Registry, bus *sse.Bus, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		evalStore: evalStore,
		remStore:  remStore,
		providers: providers,
		bus:       bus,
		logger:    slog.Default(),
		evalQueue: make(chan *core.Job, DefaultQueueCapacity),
		remQueue:  make(chan *core.Job, DefaultQueueCapacity),
		jobs:      make(map[core.JobID]*core.Job),
		cleanups:  make(map[core.JobID]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the worker pools. It returns once every worker goroutine
// has been spawned; workers keep running until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < DefaultEvalWorkers; i++ {
		m.wg.Add(1)
		go m.runEvalWorker(ctx)
	}
	for i := 0; i < DefaultRemediationWorkers; i++ {
		m.wg.Add(1)
		go m.runRemediationWorker(ctx)
	}
}

// Wait blocks until every worker goroutine has returned (ctx cancellation).
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Recover marks every job the store has persisted as still queued or
// running — left in that state by a prior process that never reached a
// terminal status — as failed with code ABANDONED. Must run before Start.
func (m *Manager) Recover(ctx context.Context) error {
	incomplete, err := m.store.ListIncomplete()
	if err != nil {
		return err
	}
	for _, job := range incomplete {
		job.Abandon()
		if err := m.store.SaveJob(job); err != nil {
			return err
		}
		m.logger.WarnContext(ctx, "recovered abandoned job", "jobId", string(job.ID), "kind", string(job.Kind))
	}
	return nil
}

func (m *Manager) track(job *core.Job) {
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
}

func (m *Manager) setCleanup(id core.JobID, fn func()) {
	m.mu.Lock()
	m.cleanups[id] = fn
	m.mu.Unlock()
}

func (m *Manager) runCleanup(id core.JobID) {
	m.mu.Lock()
	fn := m.cleanups[id]
	delete(m.cleanups, id)
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *Manager) persist(job *core.Job) {
	if err := m.store.SaveJob(job); err != nil {
		m.logger.Error("failed to persist job", "jobId", string(job.ID), "error", err)
	}
}

func (m *Manager) publish(jobID core.JobID, evtType string, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(jobID, sse.EventType(evtType), data)
}

func newJobID() core.JobID {
	return core.JobID(uuid.NewString())
}
