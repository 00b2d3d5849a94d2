package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"roachplane/services/store"
)

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	jobs, err := a.store.ListJobs(ctx, p)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if _, err := principalFrom(r); err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid job id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	job, err := a.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (a *API) handleJobTasks(w http.ResponseWriter, r *http.Request) {
	if _, err := principalFrom(r); err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid job id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	tasks, err := a.store.ListTasks(ctx, jobID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}
