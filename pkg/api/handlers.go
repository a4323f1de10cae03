package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/paddles/pkg/runstore"
	"github.com/go-chi/chi/v5"
)

const (
	defaultRunsCount = 50
	maxRunsCount     = 500
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeStoreError maps store sentinel errors onto HTTP statuses. Anything
// unexpected is logged and reported as an internal error.
func (s *server) writeStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, runstore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})
	case errors.Is(err, runstore.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorResponse{err.Error()})
	case errors.Is(err, runstore.ErrInvalidJob):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	default:
		s.log.WithError(err).Error(msg)
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}

// urlParam returns a decoded path parameter. chi matches on RawPath when
// the request carries one, leaving parameters escaped; otherwise it matches
// on the already decoded Path.
func urlParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v
	}

	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}

	return v
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Runs ---

// RunResponse is the public representation of a run.
type RunResponse struct {
	Name      string           `json:"name"`
	Href      string           `json:"href"`
	Status    string           `json:"status"`
	Results   runstore.Results `json:"results"`
	JobsCount int              `json:"jobs_count"`
	Posted    time.Time        `json:"posted"`
	Scheduled time.Time        `json:"scheduled"`
	Branch    string           `json:"branch"`
	Suite     string           `json:"suite"`
}

// NewRunResponse builds the public representation of run. Links are rooted
// at address, the public base URL of the service.
func NewRunResponse(run *runstore.Run, address string) RunResponse {
	results := run.Results()

	return RunResponse{
		Name:      run.Name,
		Href:      RunHref(address, run.Name),
		Status:    run.Status(),
		Results:   results,
		JobsCount: results.Total,
		Posted:    run.Posted.UTC(),
		Scheduled: run.Scheduled.UTC(),
		Branch:    run.Branch,
		Suite:     run.Suite,
	}
}

// RunHref returns the dashboard link for a run.
func RunHref(address, name string) string {
	return fmt.Sprintf("%s/runs/%s/", strings.TrimRight(address, "/"), url.PathEscape(name))
}

type createRunRequest struct {
	Name string `json:"name"`
}

// handleListRuns lists runs newest first with optional branch/suite filters.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	count, err := positiveIntParam(q, "count", defaultRunsCount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if count > maxRunsCount {
		count = maxRunsCount
	}

	page, err := positiveIntParam(q, "page", 1)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	runs, err := s.store.ListRuns(r.Context(), runstore.RunFilter{
		Branch: q.Get("branch"),
		Suite:  q.Get("suite"),
		Limit:  count,
		Offset: (page - 1) * count,
	})
	if err != nil {
		s.writeStoreError(w, err, "Failed to list runs")

		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, NewRunResponse(&runs[i], s.cfg.API.Server.Address))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCreateRun registers a new run; metadata is derived from its name.
func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name is required"})

		return
	}

	run := runstore.NewRun(s.parser, req.Name, time.Now())

	if err := s.store.CreateRun(r.Context(), run); err != nil {
		s.writeStoreError(w, err, "Failed to create run")

		return
	}

	s.log.WithField("run", run.Name).
		WithField("suite", run.Suite).
		WithField("branch", run.Branch).
		Info("Run registered")

	writeJSON(w, http.StatusCreated, NewRunResponse(run, s.cfg.API.Server.Address))
}

// handleGetRun returns a single run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), urlParam(r, "name"))
	if err != nil {
		s.writeStoreError(w, err, "Failed to get run")

		return
	}

	writeJSON(w, http.StatusOK, NewRunResponse(run, s.cfg.API.Server.Address))
}

// handleDeleteRun deletes a run and its jobs.
func (s *server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")

	if err := s.store.DeleteRun(r.Context(), name); err != nil {
		s.writeStoreError(w, err, "Failed to delete run")

		return
	}

	s.log.WithField("run", name).Info("Run deleted")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListBranches returns all known branch names.
func (s *server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.store.ListBranches(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "Failed to list branches")

		return
	}

	writeJSON(w, http.StatusOK, branches)
}

// handleListSuites returns all known suite names.
func (s *server) handleListSuites(w http.ResponseWriter, r *http.Request) {
	suites, err := s.store.ListSuites(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "Failed to list suites")

		return
	}

	writeJSON(w, http.StatusOK, suites)
}

// positiveIntParam reads an optional positive integer query parameter.
func positiveIntParam(q url.Values, key string, def int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}

	return n, nil
}
