package operations

import (
	"context"
	"errors"

	"roachplane/pkg/bus"
	"roachplane/services/runner"
	"roachplane/services/store"
)

// handleDelete tears a cluster down. DELETED is terminal for delete; a failed
// teardown parks the cluster in DELETE_FAILED for operator attention.
func (h *Handlers) handleDelete(ctx context.Context, msg store.Message) error {
	var req DeleteRequest
	if err := decodePayload(msg.MsgData, &req); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}

	cluster, err := h.deps.Store.GetCluster(ctx, req.Name)
	if errors.Is(err, store.ErrNotFound) {
		return h.failJob(ctx, msg.MsgID, "cluster "+req.Name+" does not exist")
	}
	if err != nil {
		return err
	}
	if err := deleteAllowed(cluster.Status); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}

	if err := h.beginClusterOp(ctx, msg, req.Name, store.ClusterDeleting); err != nil {
		return err
	}

	h.deps.Spawn.Go(func(ctx context.Context) {
		vars := map[string]any{"deployment_id": req.Name}
		status, _, _, err := h.deps.Runner.Run(ctx, msg.MsgID, store.MsgDeleteCluster, vars, 0)
		if errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("WARN job %d: reaped while deleting %s, standing down", msg.MsgID, req.Name)
			return
		}
		if err != nil {
			h.deps.Logger.Printf("ERROR job %d: delete %s: %v", msg.MsgID, req.Name, err)
		}
		if err != nil || status != runner.StatusSuccessful {
			_ = h.setClusterStatus(ctx, req.Name, systemActor, store.ClusterDeleteFailed, msg.MsgID)
			h.publishJobFinished(ctx, msg.MsgID, store.JobFailed)
			return
		}
		_ = h.setClusterStatus(ctx, req.Name, systemActor, store.ClusterDeleted, msg.MsgID)
		h.publishJobFinished(ctx, msg.MsgID, store.JobCompleted)
	})
	return nil
}

// beginClusterOp is the shared synchronous tail of every cluster-targeted
// handler: in-flight status, job link, SCHEDULED, lifecycle events.
func (h *Handlers) beginClusterOp(ctx context.Context, msg store.Message, clusterID, inFlight string) error {
	if err := h.deps.Store.UpdateCluster(ctx, clusterID, msg.CreatedBy, store.ClusterUpdate{Status: &inFlight}); err != nil {
		return err
	}
	if err := h.deps.Store.LinkJobCluster(ctx, clusterID, msg.MsgID); err != nil {
		return err
	}
	if err := h.deps.Store.UpdateJobStatus(ctx, msg.MsgID, store.JobScheduled); err != nil {
		return err
	}
	h.publish(ctx, bus.JobsStartedSubject, map[string]any{
		"job_id":     msg.MsgID,
		"job_type":   msg.MsgType,
		"cluster_id": clusterID,
	})
	h.publishClusterStatus(ctx, clusterID, inFlight, msg.MsgID)
	return nil
}
