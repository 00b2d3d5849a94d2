package operations

import (
	"context"
	"errors"

	"roachplane/services/runner"
	"roachplane/services/store"
)

// handleScale reshapes a running cluster. The request carries the full
// desired shape; the handler derives the sub-operations and runs them in a
// fixed order, short-circuiting to SCALE_FAILED on the first failure:
// disk, cpus, node count out, node count in, regions out, regions in.
func (h *Handlers) handleScale(ctx context.Context, msg store.Message) error {
	var req ScaleRequest
	if err := decodePayload(msg.MsgData, &req); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}
	if req.NodeCount <= 0 || req.NodeCPUs <= 0 || req.DiskSize <= 0 {
		return h.failJob(ctx, msg.MsgID, "node_count, node_cpus, and disk_size must be positive")
	}
	desiredRegions, err := parseCloudRegions(req.Regions)
	if err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}

	cluster, err := h.deps.Store.GetCluster(ctx, req.Name)
	if errors.Is(err, store.ErrNotFound) {
		return h.failJob(ctx, msg.MsgID, "cluster "+req.Name+" does not exist")
	}
	if err != nil {
		return err
	}
	if err := scaleAllowed(cluster.Status); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}

	if err := h.beginClusterOp(ctx, msg, req.Name, store.ClusterScaling); err != nil {
		return err
	}

	h.deps.Spawn.Go(func(ctx context.Context) {
		h.runScale(ctx, msg.MsgID, cluster, req, desiredRegions)
	})
	return nil
}

// scaleStep runs one sub-operation under the shared job. The job stays
// RUNNING after a successful step so the next step can follow.
func (h *Handlers) scaleStep(ctx context.Context, jobID int64, playbook, clusterID string, regions []CloudRegion, count, cpus, disk int, hosts []string, next int) (any, int, bool) {
	deployment, err := BuildDeployment(ctx, h.deps.Store, regions, count, cpus, disk)
	if err != nil {
		h.deps.Logger.Printf("ERROR job %d: build deployment: %v", jobID, err)
		h.appendErrorTask(ctx, jobID, next, err.Error())
		return nil, next, false
	}

	vars := map[string]any{
		"deployment_id": clusterID,
		"deployment":    deployment,
		"current_hosts": hosts,
	}
	status, data, next, err := h.deps.Runner.RunStep(ctx, jobID, playbook, vars, next)
	if err != nil {
		h.deps.Logger.Printf("ERROR job %d: %s: %v", jobID, playbook, err)
		return nil, next, false
	}
	return data, next, status == runner.StatusSuccessful
}

func (h *Handlers) runScale(ctx context.Context, jobID int64, cluster store.Cluster, req ScaleRequest, desiredRegions []CloudRegion) {
	inventory, err := cluster.Inventory()
	if err != nil {
		h.deps.Logger.Printf("ERROR job %d: decode inventory: %v", jobID, err)
		_ = h.failJob(ctx, jobID, "cluster inventory is unreadable")
		_ = h.setClusterStatus(ctx, cluster.ClusterID, systemActor, store.ClusterScaleFailed, jobID)
		return
	}
	currentRegions := inventoryRegions(inventory)
	added, removed := regionsDiff(currentRegions, desiredRegions)

	next := 0

	// fail gives the job a terminal status before marking the cluster; a step
	// the runner already failed makes the job transition a no-op.
	fail := func() {
		if err := h.deps.Store.UpdateJobStatus(ctx, jobID, store.JobFailed); err != nil && !errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("ERROR job %d: mark failed: %v", jobID, err)
		}
		_ = h.setClusterStatus(ctx, cluster.ClusterID, systemActor, store.ClusterScaleFailed, jobID)
		h.publishJobFinished(ctx, jobID, store.JobFailed)
	}

	// persistInventory re-parses the engine's extracted hosts after a
	// topology-changing step and persists the realized state.
	persistInventory := func(data any, regions []CloudRegion, count int) bool {
		inv, lbs, err := ParseInventory(data, regions)
		if err != nil {
			h.deps.Logger.Printf("ERROR job %d: parse inventory: %v", jobID, err)
			h.appendErrorTask(ctx, jobID, next, "parse inventory: "+err.Error())
			return false
		}
		err = h.deps.Store.UpdateCluster(ctx, cluster.ClusterID, systemActor, store.ClusterUpdate{
			NodeCount:        &count,
			ClusterInventory: &inv,
			LBsInventory:     &lbs,
		})
		if err != nil {
			h.deps.Logger.Printf("ERROR job %d: persist inventory: %v", jobID, err)
			h.appendErrorTask(ctx, jobID, next, "persist inventory: "+err.Error())
			return false
		}
		inventory = inv
		return true
	}

	if req.DiskSize != cluster.DiskSize {
		var ok bool
		_, next, ok = h.scaleStep(ctx, jobID, store.PlaybookScaleDiskSize, cluster.ClusterID,
			currentRegions, cluster.NodeCount, cluster.NodeCPUs, req.DiskSize, inventoryHosts(inventory), next)
		if !ok {
			fail()
			return
		}
		if err := h.deps.Store.UpdateCluster(ctx, cluster.ClusterID, systemActor, store.ClusterUpdate{DiskSize: &req.DiskSize}); err != nil {
			h.deps.Logger.Printf("ERROR job %d: persist disk size: %v", jobID, err)
		}
	}

	if req.NodeCPUs != cluster.NodeCPUs {
		var ok bool
		_, next, ok = h.scaleStep(ctx, jobID, store.PlaybookScaleNodeCPUs, cluster.ClusterID,
			currentRegions, cluster.NodeCount, req.NodeCPUs, req.DiskSize, inventoryHosts(inventory), next)
		if !ok {
			fail()
			return
		}
		if err := h.deps.Store.UpdateCluster(ctx, cluster.ClusterID, systemActor, store.ClusterUpdate{NodeCPUs: &req.NodeCPUs}); err != nil {
			h.deps.Logger.Printf("ERROR job %d: persist cpus: %v", jobID, err)
		}
	}

	if req.NodeCount > cluster.NodeCount {
		data, n, ok := h.scaleStep(ctx, jobID, store.PlaybookScaleClusterOut, cluster.ClusterID,
			currentRegions, req.NodeCount, req.NodeCPUs, req.DiskSize, inventoryHosts(inventory), next)
		next = n
		if !ok {
			fail()
			return
		}
		if !persistInventory(data, currentRegions, req.NodeCount) {
			fail()
			return
		}
	} else if req.NodeCount < cluster.NodeCount {
		data, n, ok := h.scaleStep(ctx, jobID, store.PlaybookScaleClusterIn, cluster.ClusterID,
			currentRegions, req.NodeCount, req.NodeCPUs, req.DiskSize, inventoryHosts(inventory), next)
		next = n
		if !ok {
			fail()
			return
		}
		if !persistInventory(data, currentRegions, req.NodeCount) {
			fail()
			return
		}
	}

	if len(added) > 0 {
		data, n, ok := h.scaleStep(ctx, jobID, store.PlaybookScaleClusterOut, cluster.ClusterID,
			desiredRegions, req.NodeCount, req.NodeCPUs, req.DiskSize, inventoryHosts(inventory), next)
		next = n
		if !ok {
			fail()
			return
		}
		if !persistInventory(data, desiredRegions, req.NodeCount) {
			fail()
			return
		}
	}

	if len(removed) > 0 {
		data, n, ok := h.scaleStep(ctx, jobID, store.PlaybookScaleClusterIn, cluster.ClusterID,
			desiredRegions, req.NodeCount, req.NodeCPUs, req.DiskSize, inventoryHosts(inventory), next)
		next = n
		if !ok {
			fail()
			return
		}
		if !persistInventory(data, desiredRegions, req.NodeCount) {
			fail()
			return
		}
	}

	if err := h.deps.Store.UpdateJobStatus(ctx, jobID, store.JobCompleted); err != nil {
		if errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("WARN job %d: reaped while scaling %s, standing down", jobID, cluster.ClusterID)
		} else {
			h.deps.Logger.Printf("ERROR job %d: complete: %v", jobID, err)
		}
		return
	}
	_ = h.setClusterStatus(ctx, cluster.ClusterID, systemActor, store.ClusterRunning, jobID)
	h.publishJobFinished(ctx, jobID, store.JobCompleted)
}
