package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// The catalog endpoints back the operator UI's dropdowns: the allowed
// versions, placement regions, and shape increments.

func (a *API) handleVersions(w http.ResponseWriter, r *http.Request) {
	a.respondCatalog(w, r, func() (any, error) {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		return a.store.ListVersions(ctx)
	})
}

func (a *API) handleRegions(w http.ResponseWriter, r *http.Request) {
	a.respondCatalog(w, r, func() (any, error) {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		return a.store.ListRegions(ctx)
	})
}

func (a *API) handleNodeCPUs(w http.ResponseWriter, r *http.Request) {
	a.respondCatalog(w, r, func() (any, error) {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		return a.store.ListCPUsPerNode(ctx)
	})
}

func (a *API) handleNodeCounts(w http.ResponseWriter, r *http.Request) {
	a.respondCatalog(w, r, func() (any, error) {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		return a.store.ListNodesPerRegion(ctx)
	})
}

func (a *API) handleDiskSizes(w http.ResponseWriter, r *http.Request) {
	a.respondCatalog(w, r, func() (any, error) {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		return a.store.ListDiskSizes(ctx)
	})
}

func (a *API) respondCatalog(w http.ResponseWriter, r *http.Request, list func() (any, error)) {
	if _, err := principalFrom(r); err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	items, err := list()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (a *API) handleListSettings(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if admin, err := a.store.IsAdmin(ctx, p); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	} else if !admin {
		respondError(w, http.StatusForbidden, errors.New("settings require admin access"))
		return
	}

	settings, err := a.store.ListSettings(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (a *API) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if admin, err := a.store.IsAdmin(ctx, p); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	} else if !admin {
		respondError(w, http.StatusForbidden, errors.New("settings require admin access"))
		return
	}

	key := chi.URLParam(r, "key")
	if err := a.store.SetSetting(ctx, key, body.Value, p.User); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if err := a.store.AppendEvent(ctx, p.User, "SET_SETTING", key); err != nil {
		a.logger.Printf("ERROR audit setting %s: %v", key, err)
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": key, "value": body.Value})
}

// handlePutSecret uploads a secret such as a group's SSH private key. The
// value is sealed to the control plane's age recipient before it reaches the
// database, and there is deliberately no GET counterpart.
func (a *API) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if body.Value == "" {
		respondError(w, http.StatusBadRequest, errors.New("value is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if admin, err := a.store.IsAdmin(ctx, p); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	} else if !admin {
		respondError(w, http.StatusForbidden, errors.New("secrets require admin access"))
		return
	}

	key := chi.URLParam(r, "key")
	if err := a.store.PutSecret(ctx, key, body.Value); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if err := a.store.AppendEvent(ctx, p.User, "SET_SECRET", key); err != nil {
		a.logger.Printf("ERROR audit secret %s: %v", key, err)
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": key})
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if admin, err := a.store.IsAdmin(ctx, p); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	} else if !admin {
		respondError(w, http.StatusForbidden, errors.New("event log requires admin access"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
	}

	events, err := a.store.ListEvents(ctx, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}
