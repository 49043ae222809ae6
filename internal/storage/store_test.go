package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "evaluator.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_RunsMigrations(t *testing.T) {
	store := newTestStore(t)

	var version int
	row := store.db.QueryRow("SELECT MAX(version) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("reading schema_migrations: %v", err)
	}
	if version != 1 {
		t.Errorf("schema version = %d, want 1", version)
	}
}

func TestOpen_IsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "evaluator.db")

	first, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	first.Close()

	second, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer second.Close()
}

func TestSaveJob_LoadJob_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	job := core.NewEvaluationJob("job-1", &core.EvaluationRequest{RepositoryURL: "https://example.com/repo.git"})
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}

	loaded, err := store.LoadJob("job-1")
	if err != nil {
		t.Fatalf("LoadJob() error = %v", err)
	}
	if loaded.ID != job.ID || loaded.RepositoryURL != job.RepositoryURL {
		t.Errorf("LoadJob() = %+v, want fields matching %+v", loaded, job)
	}
}

func TestSaveJob_Upserts(t *testing.T) {
	store := newTestStore(t)

	job := core.NewEvaluationJob("job-1", &core.EvaluationRequest{RepositoryURL: "https://example.com/repo.git"})
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("initial SaveJob() error = %v", err)
	}

	_ = job.Start()
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("update SaveJob() error = %v", err)
	}

	loaded, err := store.LoadJob("job-1")
	if err != nil {
		t.Fatalf("LoadJob() error = %v", err)
	}
	if loaded.Status != core.JobStatusRunning {
		t.Errorf("Status = %s, want running", loaded.Status)
	}
}

func TestLoadJob_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadJob("missing")
	if err == nil {
		t.Fatal("expected error for missing job")
	}
}

func TestListIncomplete(t *testing.T) {
	store := newTestStore(t)

	queued := core.NewEvaluationJob("job-queued", &core.EvaluationRequest{RepositoryURL: "https://example.com/a.git"})
	running := core.NewEvaluationJob("job-running", &core.EvaluationRequest{RepositoryURL: "https://example.com/b.git"})
	_ = running.Start()
	done := core.NewEvaluationJob("job-done", &core.EvaluationRequest{RepositoryURL: "https://example.com/c.git"})
	_ = done.Start()
	done.Complete()

	for _, j := range []*core.Job{queued, running, done} {
		if err := store.SaveJob(j); err != nil {
			t.Fatalf("SaveJob(%s) error = %v", j.ID, err)
		}
	}

	incomplete, err := store.ListIncomplete()
	if err != nil {
		t.Fatalf("ListIncomplete() error = %v", err)
	}
	if len(incomplete) != 2 {
		t.Fatalf("ListIncomplete() returned %d jobs, want 2", len(incomplete))
	}
}

func TestEvaluationRecord_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	rec := &EvaluationRecord{
		ID:            "eval-1",
		RepositoryURL: "https://example.com/repo.git",
		Branch:        "main",
		CommitSha:     "abc123",
		LocalPath:     "/tmp/repo",
		Result:        &core.EvaluationResult{},
		CreatedAt:     time.Now(),
	}
	if err := store.SaveEvaluation(rec); err != nil {
		t.Fatalf("SaveEvaluation() error = %v", err)
	}

	got, err := store.GetEvaluation("eval-1")
	if err != nil {
		t.Fatalf("GetEvaluation() error = %v", err)
	}
	if got.RepositoryURL != rec.RepositoryURL || got.Branch != rec.Branch {
		t.Errorf("GetEvaluation() = %+v, want matching %+v", got, rec)
	}
}

func TestImportEvaluation_MintsID(t *testing.T) {
	store := newTestStore(t)

	id, err := store.ImportEvaluation(map[string]interface{}{
		"RepositoryURL": "https://example.com/imported.git",
		"Branch":        "main",
	})
	if err != nil {
		t.Fatalf("ImportEvaluation() error = %v", err)
	}
	if id == "" {
		t.Fatal("ImportEvaluation() returned empty id")
	}

	got, err := store.GetEvaluation(id)
	if err != nil {
		t.Fatalf("GetEvaluation() error = %v", err)
	}
	if got.RepositoryURL != "https://example.com/imported.git" {
		t.Errorf("RepositoryURL = %q, want imported URL", got.RepositoryURL)
	}
}

func TestRemediationRecord_SaveAndPatchFor(t *testing.T) {
	store := newTestStore(t)

	rec := &RemediationRecord{
		ID:           "rem-1",
		EvaluationID: "eval-1",
		Result:       &core.RemediationResult{FullPatch: "diff --git a/f b/f"},
		CreatedAt:    time.Now(),
	}
	if err := store.SaveRemediation(rec); err != nil {
		t.Fatalf("SaveRemediation() error = %v", err)
	}

	patch, err := store.PatchFor("rem-1")
	if err != nil {
		t.Fatalf("PatchFor() error = %v", err)
	}
	if patch != rec.Result.FullPatch {
		t.Errorf("PatchFor() = %q, want %q", patch, rec.Result.FullPatch)
	}
}

func TestGetEvaluation_NotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetEvaluation("missing"); err == nil {
		t.Fatal("expected error for missing evaluation")
	}
}
