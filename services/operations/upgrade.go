package operations

import (
	"context"
	"errors"

	"roachplane/services/runner"
	"roachplane/services/store"
)

// handleUpgrade moves a cluster to a new database version via a rolling
// upgrade playbook. The version column only changes after a successful run.
func (h *Handlers) handleUpgrade(ctx context.Context, msg store.Message) error {
	var req UpgradeRequest
	if err := decodePayload(msg.MsgData, &req); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}
	if req.Version == "" {
		return h.failJob(ctx, msg.MsgID, "version is required")
	}

	cluster, err := h.deps.Store.GetCluster(ctx, req.Name)
	if errors.Is(err, store.ErrNotFound) {
		return h.failJob(ctx, msg.MsgID, "cluster "+req.Name+" does not exist")
	}
	if err != nil {
		return err
	}
	if err := upgradeAllowed(cluster.Status); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}
	if cluster.Version == req.Version {
		return h.failJob(ctx, msg.MsgID, "cluster is already at version "+req.Version)
	}

	if err := h.beginClusterOp(ctx, msg, req.Name, store.ClusterUpgrading); err != nil {
		return err
	}

	h.deps.Spawn.Go(func(ctx context.Context) {
		inventory, err := cluster.Inventory()
		if err != nil {
			h.deps.Logger.Printf("ERROR job %d: decode inventory: %v", msg.MsgID, err)
		}
		vars := map[string]any{
			"deployment_id":       req.Name,
			"cockroachdb_version": req.Version,
			"current_hosts":       inventoryHosts(inventory),
		}
		status, _, _, err := h.deps.Runner.Run(ctx, msg.MsgID, store.MsgUpgradeCluster, vars, 0)
		if errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("WARN job %d: reaped while upgrading %s, standing down", msg.MsgID, req.Name)
			return
		}
		if err != nil {
			h.deps.Logger.Printf("ERROR job %d: upgrade %s: %v", msg.MsgID, req.Name, err)
		}
		if err != nil || status != runner.StatusSuccessful {
			_ = h.setClusterStatus(ctx, req.Name, systemActor, store.ClusterUpgradeFailed, msg.MsgID)
			h.publishJobFinished(ctx, msg.MsgID, store.JobFailed)
			return
		}

		running := store.ClusterRunning
		err = h.deps.Store.UpdateCluster(ctx, req.Name, systemActor, store.ClusterUpdate{
			Status:  &running,
			Version: &req.Version,
		})
		if err != nil {
			h.deps.Logger.Printf("ERROR job %d: persist version: %v", msg.MsgID, err)
			return
		}
		h.publishClusterStatus(ctx, req.Name, store.ClusterRunning, msg.MsgID)
		h.publishJobFinished(ctx, msg.MsgID, store.JobCompleted)
	})
	return nil
}
