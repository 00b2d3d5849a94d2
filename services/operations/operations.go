package operations

import (
	"context"
	"errors"
	"log"
	"time"

	"roachplane/pkg/bus"
	"roachplane/services/store"
)

// Gateway is the slice of the persistence gateway the handlers drive.
type Gateway interface {
	GetCluster(ctx context.Context, clusterID string) (store.Cluster, error)
	CreateCluster(ctx context.Context, c store.Cluster) error
	ReplaceCluster(ctx context.Context, c store.Cluster) error
	UpdateCluster(ctx context.Context, clusterID, updatedBy string, upd store.ClusterUpdate) error
	GetRunningClusters(ctx context.Context) ([]store.Cluster, error)

	UpdateJobStatus(ctx context.Context, jobID int64, status string) error
	TouchJob(ctx context.Context, jobID int64) error
	LinkJobCluster(ctx context.Context, clusterID string, jobID int64) error
	AppendTask(ctx context.Context, jobID int64, taskID int, createdAt time.Time, name, desc string) error

	Enqueue(ctx context.Context, msgType string, payload any, createdBy string, startAfter time.Time) (int64, error)
	FailZombieJobs(ctx context.Context, threshold time.Duration, nextTick time.Time, createdBy string) ([]int64, error)

	GetZones(ctx context.Context, cloud, region string) ([]store.Region, error)
	GetSetting(ctx context.Context, key string) (string, error)
	GetSecret(ctx context.Context, key string) (string, error)
}

// PlaybookRunner executes one playbook for a job, persisting tasks and
// heartbeats. RunStep leaves a successful job in RUNNING so composite
// operations can chain sub-runs under one job.
type PlaybookRunner interface {
	Run(ctx context.Context, jobID int64, playbook string, extraVars map[string]any, taskStart int) (status string, data any, next int, err error)
	RunStep(ctx context.Context, jobID int64, playbook string, extraVars map[string]any, taskStart int) (status string, data any, next int, err error)
}

// ProbeRunner executes a playbook without job bookkeeping. files are
// materialized inside the working directory before launch.
type ProbeRunner interface {
	Run(ctx context.Context, playbook string, extraVars map[string]any, files map[string]string) (status string, data any, err error)
}

// Publisher fans lifecycle events out to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// BackupStore checks that a restore source exists before work starts.
type BackupStore interface {
	HeadObject(ctx context.Context, bucket, key string) error
}

// Spawner runs an operation body on a worker without blocking the
// dispatcher. The context it supplies outlives the dispatch transaction and
// is cancelled only on shutdown.
type Spawner interface {
	Go(fn func(ctx context.Context))
}

// InventoryRenderer renders engine input files for probes.
type InventoryRenderer interface {
	Render(name string, data any) (string, error)
}

// Deps wires the handlers' collaborators.
type Deps struct {
	Store    Gateway
	Runner   PlaybookRunner
	Probe    ProbeRunner
	Bus      Publisher
	Backups  BackupStore
	Spawn    Spawner
	Renderer InventoryRenderer
	Logger   *log.Logger
}

// Handlers routes queue messages to the per-operation state machines.
type Handlers struct {
	deps Deps
}

// New validates deps and builds the handler set.
func New(deps Deps) (*Handlers, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if deps.Spawn == nil {
		return nil, errors.New("spawner is required")
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	return &Handlers{deps: deps}, nil
}

// Route dispatches one leased message to its handler. Unknown message types
// are logged and dropped; the dispatcher deletes the row either way.
func (h *Handlers) Route(ctx context.Context, msg store.Message) error {
	switch msg.MsgType {
	case store.MsgCreateCluster:
		return h.handleCreate(ctx, msg, false)
	case store.MsgRecreateCluster:
		return h.handleCreate(ctx, msg, true)
	case store.MsgDeleteCluster:
		return h.handleDelete(ctx, msg)
	case store.MsgScaleCluster:
		return h.handleScale(ctx, msg)
	case store.MsgUpgradeCluster:
		return h.handleUpgrade(ctx, msg)
	case store.MsgRestoreCluster:
		return h.handleRestore(ctx, msg)
	case store.MsgDebugCluster:
		return h.handleDebug(ctx, msg)
	case store.MsgHealthcheckClusters:
		return h.handleHealthcheck(ctx, msg)
	case store.MsgFailZombieJobs:
		return h.handleReaper(ctx, msg)
	default:
		h.deps.Logger.Printf("WARN dropping message %d with unknown type %q", msg.MsgID, msg.MsgType)
		return nil
	}
}

// systemActor attributes state changes made by workers rather than by the
// operator who enqueued the message.
const systemActor = "system"

func (h *Handlers) publishJobFinished(ctx context.Context, jobID int64, status string) {
	h.publish(ctx, bus.JobsFinishedSubject, map[string]any{
		"job_id": jobID,
		"status": status,
	})
}

// failJob records a precondition violation: one explanatory task and a FAILED
// job, leaving the cluster untouched. No runner has produced tasks yet, so the
// explanatory task takes id 0.
func (h *Handlers) failJob(ctx context.Context, jobID int64, reason string) error {
	h.appendErrorTask(ctx, jobID, 0, reason)
	if err := h.deps.Store.UpdateJobStatus(ctx, jobID, store.JobFailed); err != nil && !errors.Is(err, store.ErrJobTerminal) {
		return err
	}
	h.publish(ctx, bus.JobsFinishedSubject, map[string]any{
		"job_id": jobID,
		"status": store.JobFailed,
		"reason": reason,
	})
	return nil
}

// appendErrorTask records an explanatory ERROR task; taskID must continue the
// job's task stream.
func (h *Handlers) appendErrorTask(ctx context.Context, jobID int64, taskID int, reason string) {
	if err := h.deps.Store.AppendTask(ctx, jobID, taskID, time.Now().UTC(), "ERROR", reason); err != nil {
		h.deps.Logger.Printf("ERROR job %d: append failure task: %v", jobID, err)
	}
}

func (h *Handlers) publish(ctx context.Context, subj string, payload map[string]any) {
	if h.deps.Bus == nil {
		return
	}
	if err := h.deps.Bus.Publish(ctx, subj, payload); err != nil {
		h.deps.Logger.Printf("ERROR publish %s: %v", subj, err)
	}
}

func (h *Handlers) publishClusterStatus(ctx context.Context, clusterID, status string, jobID int64) {
	h.publish(ctx, bus.ClusterStatusSubject, map[string]any{
		"cluster_id": clusterID,
		"status":     status,
		"job_id":     jobID,
	})
}

// setClusterStatus is the common state transition: persist the new status and
// announce it.
func (h *Handlers) setClusterStatus(ctx context.Context, clusterID, updatedBy, status string, jobID int64) error {
	err := h.deps.Store.UpdateCluster(ctx, clusterID, updatedBy, store.ClusterUpdate{Status: &status})
	if err != nil {
		return err
	}
	h.publishClusterStatus(ctx, clusterID, status, jobID)
	return nil
}
