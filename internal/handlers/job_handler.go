package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

const jobsPrefix = "/api/jobs/"

// JobHandler exposes the job orchestrator to the local UI
type JobHandler struct {
	jobs   JobService
	logger arbor.ILogger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs JobService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:   jobs,
		logger: logger,
	}
}

// ListJobsHandler handles GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	descs, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err, "List jobs")
		return
	}
	if descs == nil {
		descs = []*models.JobDescriptor{}
	}
	WriteJSON(w, http.StatusOK, descs)
}

// StartJobHandler handles POST /api/jobs/{resourceId} with optional JSON job options
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	resourceID := PathID(r.URL.Path, jobsPrefix)
	if resourceID == "" {
		WriteError(w, http.StatusBadRequest, "Resource id is required")
		return
	}

	var options models.JobOptions
	if err := json.NewDecoder(r.Body).Decode(&options); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "Invalid job options")
		return
	}

	handle, err := h.jobs.StartJob(r.Context(), resourceID, options)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Start job")
		return
	}

	h.logger.Debug().Str("resource_id", resourceID).Str("server_job_id", handle.ServerJobID).Msg("Job started via API")
	WriteJSON(w, http.StatusAccepted, handle.Submitted)
}

// GetJobHandler handles GET /api/jobs/{resourceId}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	resourceID := PathID(r.URL.Path, jobsPrefix)

	desc, err := h.jobs.GetLastKnownState(r.Context(), resourceID)
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Resource has never been submitted")
		return
	}
	if err != nil {
		WriteServiceError(w, h.logger, err, "Get job")
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

// CancelJobHandler handles DELETE /api/jobs/{resourceId}
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	resourceID := PathID(r.URL.Path, jobsPrefix)

	if err := h.jobs.CancelJob(r.Context(), resourceID); err != nil {
		WriteServiceError(w, h.logger, err, "Cancel job")
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":      "cancelling",
		"resource_id": resourceID,
	})
}

// ClearJobHandler handles POST /api/jobs/{resourceId}/clear
func (h *JobHandler) ClearJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	resourceID := PathID(r.URL.Path, jobsPrefix)

	if err := h.jobs.ClearJob(r.Context(), resourceID); err != nil {
		WriteServiceError(w, h.logger, err, "Clear job")
		return
	}
	WriteSuccess(w, "Job cleared")
}

// RecoverHandler handles POST /api/jobs/recover
func (h *JobHandler) RecoverHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	report, err := h.jobs.Recover(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err, "Recover jobs")
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
