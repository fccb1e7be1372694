package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/jobs"
	"github.com/dailyclearing/digest-back/internal/repository"
	"github.com/dailyclearing/digest-back/internal/service"
)

type startRequest struct {
	OwnerID     string                 `json:"owner_id"`
	Preferences domain.UserPreferences `json:"preferences"`
}

func (api *API) StartJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request startRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := validateOwnerID(request.OwnerID); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "owner_id is required")
		return
	}

	job, err := api.digests.StartDigest(r.Context(), strings.TrimSpace(request.OwnerID), request.Preferences)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoTopicsEnabled):
			writeError(w, r, http.StatusBadRequest, "invalid_request", "preferences must enable at least one topic")
		case errors.Is(err, jobs.ErrJobConflict):
			writeError(w, r, http.StatusConflict, "job_conflict", "a digest job for this owner is already in progress")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to start digest job")
		}
		return
	}

	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"owner_id":    job.OwnerID,
		"status":      job.Status,
		"status_url":  "/v1/jobs/" + job.ID,
		"accepted_at": job.StartedAt.Format(time.RFC3339Nano),
	})
}

// Jobs dispatches /v1/jobs/{id} and /v1/jobs/{id}/result.
func (api *API) Jobs(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	jobID, sub, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		api.jobStatus(w, r, jobID)
	case sub == "" && r.Method == http.MethodDelete:
		api.cancelJob(w, r, jobID)
	case sub == "result" && r.Method == http.MethodGet:
		api.jobResult(w, r, jobID)
	case sub == "" || sub == "result":
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (api *API) jobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	view, err := api.digests.Progress(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) jobResult(w http.ResponseWriter, r *http.Request, jobID string) {
	artifact, err := api.digests.Result(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "job or result not found")
		case errors.Is(err, service.ErrResultNotReady):
			writeError(w, r, http.StatusConflict, "not_ready", "digest is not complete yet")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load result")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner_id":   artifact.OwnerID,
		"digest_id":  artifact.DigestID,
		"digest":     json.RawMessage(artifact.Digest),
		"markdown":   artifact.Markdown,
		"created_at": artifact.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (api *API) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := api.digests.Progress(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	if err := api.digests.Cancel(r.Context(), job.OwnerID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to cancel job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
