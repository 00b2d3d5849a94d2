package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"roachplane/services/operations"
	"roachplane/services/store"
)

func (a *API) handleListClusters(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	clusters, err := a.store.ListClusters(ctx, p)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, clusters)
}

func (a *API) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	cluster, err := a.store.GetCluster(ctx, chi.URLParam(r, "name"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if ok, err := a.canManage(ctx, p, cluster); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	} else if !ok {
		respondError(w, http.StatusForbidden, errors.New("cluster belongs to another group"))
		return
	}
	respondJSON(w, http.StatusOK, cluster)
}

func (a *API) handleCreateCluster(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req operations.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	admin, err := a.store.IsAdmin(ctx, p)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !admin && !memberOf(p, req.Group) {
		respondError(w, http.StatusForbidden, fmt.Errorf("not a member of group %s", req.Group))
		return
	}

	a.enqueueOp(ctx, w, p, store.MsgCreateCluster, req.Name, req)
}

func (a *API) handleRecreateCluster(w http.ResponseWriter, r *http.Request) {
	var req operations.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = chi.URLParam(r, "name")
	a.enqueueClusterOp(w, r, store.MsgRecreateCluster, req.Name, &req)
}

func (a *API) handleDeleteCluster(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a.enqueueClusterOp(w, r, store.MsgDeleteCluster, name, operations.DeleteRequest{Name: name})
}

func (a *API) handleScaleCluster(w http.ResponseWriter, r *http.Request) {
	var req operations.ScaleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = chi.URLParam(r, "name")
	a.enqueueClusterOp(w, r, store.MsgScaleCluster, req.Name, req)
}

func (a *API) handleUpgradeCluster(w http.ResponseWriter, r *http.Request) {
	var req operations.UpgradeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = chi.URLParam(r, "name")
	a.enqueueClusterOp(w, r, store.MsgUpgradeCluster, req.Name, req)
}

func (a *API) handleRestoreCluster(w http.ResponseWriter, r *http.Request) {
	var req operations.RestoreRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = chi.URLParam(r, "name")
	a.enqueueClusterOp(w, r, store.MsgRestoreCluster, req.Name, req)
}

func (a *API) handleDebugCluster(w http.ResponseWriter, r *http.Request) {
	var req operations.DebugRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = chi.URLParam(r, "name")
	a.enqueueClusterOp(w, r, store.MsgDebugCluster, req.Name, req)
}

func (a *API) handleClusterJobs(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	name := chi.URLParam(r, "name")
	cluster, err := a.store.GetCluster(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if ok, err := a.canManage(ctx, p, cluster); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	} else if !ok {
		respondError(w, http.StatusForbidden, errors.New("cluster belongs to another group"))
		return
	}

	jobs, err := a.store.ListLinkedJobs(ctx, name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

// enqueueClusterOp is the shared body of every mutating endpoint targeting an
// existing cluster: authorize against the cluster's group, enqueue, audit.
func (a *API) enqueueClusterOp(w http.ResponseWriter, r *http.Request, msgType, name string, payload any) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	cluster, err := a.store.GetCluster(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if ok, err := a.canManage(ctx, p, cluster); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	} else if !ok {
		respondError(w, http.StatusForbidden, errors.New("cluster belongs to another group"))
		return
	}

	a.enqueueOp(ctx, w, p, msgType, name, payload)
}

func (a *API) enqueueOp(ctx context.Context, w http.ResponseWriter, p store.Principal, msgType, name string, payload any) {
	jobID, err := a.store.Enqueue(ctx, msgType, payload, p.User, time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	details, _ := json.Marshal(map[string]any{"cluster": name, "job_id": jobID})
	if err := a.store.AppendEvent(ctx, p.User, msgType, string(details)); err != nil {
		a.logger.Printf("ERROR audit %s by %s: %v", msgType, p.User, err)
	}

	respondJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
}

func memberOf(p store.Principal, group string) bool {
	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}
	return false
}
