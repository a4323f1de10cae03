package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethpandaops/paddles/pkg/runstore"
	"github.com/mitchellh/mapstructure"
)

// JobResponse is the public representation of a job.
type JobResponse struct {
	JobID       string    `json:"job_id"`
	Run         string    `json:"run"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Success     *bool     `json:"success"`
	Posted      time.Time `json:"posted"`
	Updated     time.Time `json:"updated"`
}

// NewJobResponse builds the public representation of job within runName.
func NewJobResponse(job *runstore.Job, runName string) JobResponse {
	return JobResponse{
		JobID:       job.JobID,
		Run:         runName,
		Description: job.Description,
		Status:      job.Status,
		Success:     job.Success,
		Posted:      job.Posted.UTC(),
		Updated:     job.Updated.UTC(),
	}
}

type createJobRequest struct {
	JobID       string `json:"job_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Success     *bool  `json:"success"`
}

// jobUpdate holds the fields a PUT may change. Which keys were present in
// the body is tracked separately so that an explicit null can clear success.
type jobUpdate struct {
	Description *string `mapstructure:"description"`
	Status      *string `mapstructure:"status"`
	Success     *bool   `mapstructure:"success"`
}

// handleListJobs lists a run's jobs, optionally filtered by status.
func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")

	jobs, err := s.store.ListJobs(r.Context(), name, r.URL.Query().Get("status"))
	if err != nil {
		s.writeStoreError(w, err, "Failed to list jobs")

		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		resp = append(resp, NewJobResponse(&jobs[i], name))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetJob returns a single job.
func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")

	job, err := s.store.GetJob(r.Context(), name, urlParam(r, "jobID"))
	if err != nil {
		s.writeStoreError(w, err, "Failed to get job")

		return
	}

	writeJSON(w, http.StatusOK, NewJobResponse(job, name))
}

// handleCreateJob adds a job to a run.
func (s *server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"job_id is required"})

		return
	}

	job := &runstore.Job{
		JobID:       req.JobID,
		Description: req.Description,
		Status:      req.Status,
		Success:     req.Success,
	}

	if err := s.store.CreateJob(r.Context(), name, job); err != nil {
		s.writeStoreError(w, err, "Failed to create job")

		return
	}

	writeJSON(w, http.StatusCreated, NewJobResponse(job, name))
}

// handleUpdateJob applies a partial update to a job.
func (s *server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	job, err := s.store.GetJob(r.Context(), name, urlParam(r, "jobID"))
	if err != nil {
		s.writeStoreError(w, err, "Failed to get job")

		return
	}

	if err := applyJobUpdate(job, fields); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if err := s.store.UpdateJob(r.Context(), job); err != nil {
		s.writeStoreError(w, err, "Failed to update job")

		return
	}

	writeJSON(w, http.StatusOK, NewJobResponse(job, name))
}

// applyJobUpdate copies the keys present in fields onto job. Changing only
// the status re-derives the outcome and vice versa.
func applyJobUpdate(job *runstore.Job, fields map[string]any) error {
	var upd jobUpdate

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &upd,
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}

	if err := dec.Decode(fields); err != nil {
		return fmt.Errorf("invalid job update: %w", err)
	}

	_, hasStatus := fields["status"]
	_, hasSuccess := fields["success"]

	if upd.Description != nil {
		job.Description = *upd.Description
	}

	switch {
	case hasStatus && hasSuccess:
		job.Status = derefString(upd.Status)
		job.Success = upd.Success
	case hasStatus:
		job.Status = derefString(upd.Status)
		job.Success = nil
	case hasSuccess:
		job.Status = runstore.JobStatusUnknown
		job.Success = upd.Success
	}

	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
