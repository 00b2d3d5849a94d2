package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roachplane/services/store"
)

// Gateway is the persistence surface the HTTP layer drives. Every mutating
// endpoint only enqueues work; the dispatcher owns the actual state machine.
type Gateway interface {
	Enqueue(ctx context.Context, msgType string, payload any, createdBy string, startAfter time.Time) (int64, error)

	GetCluster(ctx context.Context, clusterID string) (store.Cluster, error)
	ListClusters(ctx context.Context, p store.Principal) ([]store.Cluster, error)

	GetJob(ctx context.Context, jobID int64) (store.Job, error)
	ListJobs(ctx context.Context, p store.Principal) ([]store.Job, error)
	ListLinkedJobs(ctx context.Context, clusterID string) ([]store.Job, error)
	ListTasks(ctx context.Context, jobID int64) ([]store.Task, error)

	IsAdmin(ctx context.Context, p store.Principal) (bool, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value, updatedBy string) error
	ListSettings(ctx context.Context) ([]store.Setting, error)
	PutSecret(ctx context.Context, key, value string) error

	ListRegions(ctx context.Context) ([]store.Region, error)
	ListVersions(ctx context.Context) ([]string, error)
	ListCPUsPerNode(ctx context.Context) ([]int, error)
	ListNodesPerRegion(ctx context.Context) ([]int, error)
	ListDiskSizes(ctx context.Context) ([]int, error)

	AppendEvent(ctx context.Context, createdBy, eventType, details string) error
	ListEvents(ctx context.Context, limit int) ([]store.EventLog, error)
}

// API wires the HTTP handlers.
type API struct {
	store  Gateway
	logger *log.Logger
}

// New initialises the API layer.
func New(gw Gateway, logger *log.Logger) (*API, error) {
	if gw == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &API{store: gw, logger: logger}, nil
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/clusters", a.handleListClusters)
		r.Post("/clusters", a.handleCreateCluster)
		r.Get("/clusters/{name}", a.handleGetCluster)
		r.Delete("/clusters/{name}", a.handleDeleteCluster)
		r.Post("/clusters/{name}/recreate", a.handleRecreateCluster)
		r.Post("/clusters/{name}/scale", a.handleScaleCluster)
		r.Post("/clusters/{name}/upgrade", a.handleUpgradeCluster)
		r.Post("/clusters/{name}/restore", a.handleRestoreCluster)
		r.Post("/clusters/{name}/debug", a.handleDebugCluster)
		r.Get("/clusters/{name}/jobs", a.handleClusterJobs)

		r.Get("/jobs", a.handleListJobs)
		r.Get("/jobs/{id}", a.handleGetJob)
		r.Get("/jobs/{id}/tasks", a.handleJobTasks)

		r.Get("/catalog/versions", a.handleVersions)
		r.Get("/catalog/regions", a.handleRegions)
		r.Get("/catalog/node-cpus", a.handleNodeCPUs)
		r.Get("/catalog/node-counts", a.handleNodeCounts)
		r.Get("/catalog/disk-sizes", a.handleDiskSizes)

		r.Get("/settings", a.handleListSettings)
		r.Put("/settings/{key}", a.handleSetSetting)
		r.Put("/secrets/{key}", a.handlePutSecret)
		r.Get("/events", a.handleListEvents)
	})

	return r, nil
}
