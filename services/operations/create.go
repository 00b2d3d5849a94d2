package operations

import (
	"context"
	"errors"
	"fmt"

	"roachplane/pkg/bus"
	"roachplane/services/runner"
	"roachplane/services/store"
)

// handleCreate provisions a new cluster, or reprovisions an existing one when
// recreate is set. The synchronous phase validates, claims the cluster row,
// and schedules the job; the worker builds the deployment descriptor, runs
// the provisioning playbook, and reconciles.
func (h *Handlers) handleCreate(ctx context.Context, msg store.Message, recreate bool) error {
	var req CreateRequest
	if err := decodePayload(msg.MsgData, &req); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}
	if err := req.validate(); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}
	regions, err := parseCloudRegions(req.Regions)
	if err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}

	row := store.Cluster{
		ClusterID: req.Name,
		Group:     req.Group,
		Status:    store.ClusterProvisioning,
		Version:   req.Version,
		NodeCount: req.NodeCount,
		NodeCPUs:  req.NodeCPUs,
		DiskSize:  req.DiskSize,
		CreatedBy: msg.CreatedBy,
	}
	if recreate {
		if err := h.deps.Store.ReplaceCluster(ctx, row); err != nil {
			return err
		}
	} else {
		switch err := h.deps.Store.CreateCluster(ctx, row); {
		case errors.Is(err, store.ErrClusterExists):
			return h.failJob(ctx, msg.MsgID, fmt.Sprintf("cluster %s already exists, recreate to replace it", req.Name))
		case err != nil:
			return err
		}
	}

	if err := h.deps.Store.LinkJobCluster(ctx, req.Name, msg.MsgID); err != nil {
		return err
	}
	if err := h.deps.Store.UpdateJobStatus(ctx, msg.MsgID, store.JobScheduled); err != nil {
		return err
	}
	h.publish(ctx, bus.JobsStartedSubject, map[string]any{
		"job_id":     msg.MsgID,
		"job_type":   msg.MsgType,
		"cluster_id": req.Name,
	})
	h.publishClusterStatus(ctx, req.Name, store.ClusterProvisioning, msg.MsgID)

	h.deps.Spawn.Go(func(ctx context.Context) {
		h.runCreate(ctx, msg.MsgID, req, regions)
	})
	return nil
}

func (h *Handlers) runCreate(ctx context.Context, jobID int64, req CreateRequest, regions []CloudRegion) {
	deployment, err := BuildDeployment(ctx, h.deps.Store, regions, req.NodeCount, req.NodeCPUs, req.DiskSize)
	if err != nil {
		h.deps.Logger.Printf("ERROR job %d: build deployment: %v", jobID, err)
		_ = h.failJob(ctx, jobID, err.Error())
		_ = h.setClusterStatus(ctx, req.Name, systemActor, store.ClusterFailed, jobID)
		return
	}

	vars := map[string]any{
		"deployment_id":       req.Name,
		"deployment":          deployment,
		"cockroachdb_version": req.Version,
	}
	// The playbook finishing does not complete the job: COMPLETED is only
	// set once the produced inventory is parsed and persisted, so a job never
	// reads as done while its cluster row is still PROVISIONING.
	status, data, next, err := h.deps.Runner.RunStep(ctx, jobID, store.MsgCreateCluster, vars, 0)
	if err != nil {
		if errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("WARN job %d: reaped while creating %s, standing down", jobID, req.Name)
			return
		}
		h.deps.Logger.Printf("ERROR job %d: create %s: %v", jobID, req.Name, err)
	}
	if err != nil || status != runner.StatusSuccessful {
		_ = h.setClusterStatus(ctx, req.Name, systemActor, store.ClusterFailed, jobID)
		h.publishJobFinished(ctx, jobID, store.JobFailed)
		return
	}

	failCreate := func(reason string) {
		h.appendErrorTask(ctx, jobID, next, reason)
		if err := h.deps.Store.UpdateJobStatus(ctx, jobID, store.JobFailed); err != nil && !errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("ERROR job %d: mark failed: %v", jobID, err)
		}
		_ = h.setClusterStatus(ctx, req.Name, systemActor, store.ClusterFailed, jobID)
		h.publishJobFinished(ctx, jobID, store.JobFailed)
	}

	inventory, lbs, err := ParseInventory(data, regions)
	if err != nil {
		h.deps.Logger.Printf("ERROR job %d: parse inventory: %v", jobID, err)
		failCreate("parse inventory: " + err.Error())
		return
	}

	running := store.ClusterRunning
	err = h.deps.Store.UpdateCluster(ctx, req.Name, systemActor, store.ClusterUpdate{
		Status:           &running,
		ClusterInventory: &inventory,
		LBsInventory:     &lbs,
	})
	if err != nil {
		h.deps.Logger.Printf("ERROR job %d: persist inventory: %v", jobID, err)
		failCreate("persist inventory: " + err.Error())
		return
	}

	if err := h.deps.Store.UpdateJobStatus(ctx, jobID, store.JobCompleted); err != nil {
		if errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("WARN job %d: reaped while creating %s, not marking completed", jobID, req.Name)
		} else {
			h.deps.Logger.Printf("ERROR job %d: mark completed: %v", jobID, err)
		}
		return
	}
	h.publishClusterStatus(ctx, req.Name, store.ClusterRunning, jobID)
	h.publishJobFinished(ctx, jobID, store.JobCompleted)
}
