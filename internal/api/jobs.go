package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evalsvc/docreview/internal/core"
)

// EvaluationStore is the subset of the evaluation storage collaborator the
// HTTP surface needs.
type EvaluationStore interface {
	Get(id string) (interface{}, error)
	Import(record interface{}) (id string, err error)
}

// RemediationStore is the subset of the remediation storage collaborator the
// HTTP surface needs.
type RemediationStore interface {
	Get(id string) (interface{}, error)
	Patch(id string) (string, error)
}

type evaluateRequest struct {
	RepositoryURL string                 `json:"repositoryUrl"`
	Options       map[string]interface{} `json:"options"`
}

func (s *Server) handleSubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "job manager not configured")
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}
	if req.RepositoryURL == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "repositoryUrl is required")
		return
	}

	jobID, err := s.jobs.SubmitEvaluation(r.Context(), req.RepositoryURL, req.Options)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  jobID,
		"status": "queued",
		"sseUrl": "/api/evaluate/" + jobID + "/stream",
	})
}

type evaluateBatchRequest struct {
	URLs    []string               `json:"urls"`
	Options map[string]interface{} `json:"options"`
}

type batchJobResult struct {
	URL    string `json:"url"`
	JobID  string `json:"jobId,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleSubmitEvaluationBatch admits each URL independently against the
// shared queue and reports per-URL outcomes, rather than rejecting the whole
// batch when one URL can't be admitted.
func (s *Server) handleSubmitEvaluationBatch(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "job manager not configured")
		return
	}
	var req evaluateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	results := make([]batchJobResult, 0, len(req.URLs))
	for _, url := range req.URLs {
		jobID, err := s.jobs.SubmitEvaluation(r.Context(), url, req.Options)
		if err != nil {
			if domErr, ok := err.(*core.DomainError); ok {
				results = append(results, batchJobResult{URL: url, Error: domErr.Code})
				continue
			}
			results = append(results, batchJobResult{URL: url, Error: "INTERNAL"})
			continue
		}
		results = append(results, batchJobResult{URL: url, JobID: jobID, Status: "queued"})
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"totalUrls": len(req.URLs),
		"jobs":      results,
	})
}

func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "job manager not configured")
		return
	}
	id := chi.URLParam(r, "id")
	status, ok := s.jobs.Status(id)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "job not found: "+id)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "job manager not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.jobs.Cancel(id); err != nil {
		s.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	if s.sseHandler == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "SSE bus not configured")
		return
	}
	id := chi.URLParam(r, "id")
	s.sseHandler.ServeJob(w, r, core.JobID(id))
}

func (s *Server) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	store, ok := s.evaluationStore()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "evaluation store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	record, err := store.Get(id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleImportEvaluation(w http.ResponseWriter, r *http.Request) {
	store, ok := s.evaluationStore()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "evaluation store not configured")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "could not read body")
		return
	}
	var record map[string]interface{}
	if err := json.Unmarshal(body, &record); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}
	id, err := store.Import(record)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"evaluationId":  id,
		"repositoryUrl": record["repositoryUrl"],
		"status":        "imported",
	})
}

type remediationRequest struct {
	EvaluationID string        `json:"evaluationId"`
	Issues       []interface{} `json:"issues"`
	TargetAgent  string        `json:"targetAgent"`
	Provider     string        `json:"provider"`
}

func (s *Server) handleSubmitRemediation(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "job manager not configured")
		return
	}
	var req remediationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}
	if req.EvaluationID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "evaluationId is required")
		return
	}

	remID, err := s.jobs.SubmitRemediation(r.Context(), req.EvaluationID, req.Issues, req.TargetAgent, req.Provider)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"remediationId": remID,
		"sseUrl":        "/api/remediation/" + remID + "/stream",
		"status":        "queued",
	})
}

func (s *Server) handleGetRemediationStatus(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "job manager not configured")
		return
	}
	id := chi.URLParam(r, "id")
	status, ok := s.jobs.Status(id)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "remediation not found: "+id)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetRemediationPatch(w http.ResponseWriter, r *http.Request) {
	store, ok := s.remediationStore()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "remediation store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	patch, err := store.Patch(id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-patch")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(patch))
}

func (s *Server) handleRemediationFollowupEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "job manager not configured")
		return
	}
	id := chi.URLParam(r, "id")
	jobID, err := s.jobs.SubmitEvaluation(r.Context(), "", map[string]interface{}{"remediationId": id})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  jobID,
		"sseUrl": "/api/evaluate/" + jobID + "/stream",
		"status": "queued",
	})
}

func (s *Server) evaluationStore() (EvaluationStore, bool) {
	if store, ok := s.jobs.(EvaluationStore); ok {
		return store, true
	}
	return nil, false
}

func (s *Server) remediationStore() (RemediationStore, bool) {
	if store, ok := s.jobs.(RemediationStore); ok {
		return store, true
	}
	return nil, false
}

func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	if status, ok := httpStatusForDomainError(err); ok {
		respondError(w, status, domainErrorCode(err), err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
}

func domainErrorCode(err error) string {
	if domErr, ok := err.(*core.DomainError); ok {
		return domErr.Code
	}
	return "INTERNAL"
}
