package operations

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"time"

	"roachplane/pkg/bus"
	"roachplane/services/runner"
	"roachplane/services/store"
)

const (
	healthcheckInterval = time.Minute
	healthcheckJitter   = 10 * time.Second

	sshKeyFile    = "ssh_key.pem"
	inventoryFile = "inventory.ini"
)

// handleHealthcheck probes every RUNNING cluster and demotes unreachable or
// partially-live ones to UNHEALTHY. The next sweep is enqueued before the
// probes run so a crashed sweep never stops the loop.
func (h *Handlers) handleHealthcheck(ctx context.Context, msg store.Message) error {
	next := time.Now().Add(withJitter(healthcheckInterval, healthcheckJitter))
	if _, err := h.deps.Store.Enqueue(ctx, store.MsgHealthcheckClusters, struct{}{}, systemActor, next); err != nil {
		return err
	}

	clusters, err := h.deps.Store.GetRunningClusters(ctx)
	if err != nil {
		return err
	}

	if err := h.deps.Store.UpdateJobStatus(ctx, msg.MsgID, store.JobRunning); err != nil {
		return err
	}

	h.deps.Spawn.Go(func(ctx context.Context) {
		for _, cluster := range clusters {
			h.probeCluster(ctx, cluster)
			// A single probe can block for the engine's full timeout, so the
			// sweep heartbeats per cluster to stay out of the reaper's sights.
			if err := h.deps.Store.TouchJob(ctx, msg.MsgID); err != nil {
				h.deps.Logger.Printf("ERROR job %d: heartbeat: %v", msg.MsgID, err)
			}
		}
		if err := h.deps.Store.UpdateJobStatus(ctx, msg.MsgID, store.JobCompleted); err != nil && !errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("ERROR job %d: complete healthcheck: %v", msg.MsgID, err)
		}
	})
	return nil
}

func (h *Handlers) probeCluster(ctx context.Context, cluster store.Cluster) {
	inventory, err := cluster.Inventory()
	if err != nil || len(inventoryHosts(inventory)) == 0 {
		h.deps.Logger.Printf("WARN healthcheck %s: no usable inventory", cluster.ClusterID)
		return
	}
	hosts := inventoryHosts(inventory)

	files, err := h.probeFiles(ctx, cluster, hosts)
	if err != nil {
		h.deps.Logger.Printf("ERROR healthcheck %s: %v", cluster.ClusterID, err)
		h.markUnhealthy(ctx, cluster.ClusterID)
		return
	}

	vars := map[string]any{
		"deployment_id": cluster.ClusterID,
		"current_hosts": hosts,
	}
	status, data, err := h.deps.Probe.Run(ctx, store.MsgHealthcheckClusters, vars, files)
	if err != nil || status != runner.StatusSuccessful {
		h.deps.Logger.Printf("WARN healthcheck %s: probe failed: status=%s err=%v", cluster.ClusterID, status, err)
		h.markUnhealthy(ctx, cluster.ClusterID)
		return
	}
	if !allNodesLive(data) {
		h.deps.Logger.Printf("WARN healthcheck %s: dead nodes reported", cluster.ClusterID)
		h.markUnhealthy(ctx, cluster.ClusterID)
	}
}

// probeFiles materializes the engine inputs for one probe: the SSH key from
// the secret store, keyed by the cluster's group, and a rendered host
// inventory referencing it.
func (h *Handlers) probeFiles(ctx context.Context, cluster store.Cluster, hosts []string) (map[string]string, error) {
	key, err := h.deps.Store.GetSecret(ctx, "ssh_key_"+cluster.Group)
	if err != nil {
		return nil, err
	}
	user, err := h.deps.Store.GetSetting(ctx, "default_username")
	if err != nil {
		return nil, err
	}

	inventory, err := h.deps.Renderer.Render("inventory.ini.tmpl", map[string]any{
		"Nodes":      hosts,
		"SSHKeyPath": sshKeyFile,
		"SSHUser":    user,
	})
	if err != nil {
		return nil, err
	}

	return map[string]string{
		sshKeyFile:    key,
		inventoryFile: inventory,
	}, nil
}

// markUnhealthy demotes a cluster. The demotion is one-way: only a successful
// explicit operation returns it to RUNNING.
func (h *Handlers) markUnhealthy(ctx context.Context, clusterID string) {
	unhealthy := store.ClusterUnhealthy
	if err := h.deps.Store.UpdateCluster(ctx, clusterID, systemActor, store.ClusterUpdate{Status: &unhealthy}); err != nil {
		h.deps.Logger.Printf("ERROR healthcheck %s: mark unhealthy: %v", clusterID, err)
		return
	}
	h.publish(ctx, bus.ClusterStatusSubject, map[string]any{
		"cluster_id": clusterID,
		"status":     store.ClusterUnhealthy,
	})
}

// allNodesLive inspects the probe's extracted data, a list of per-node
// records each carrying is_live. Missing or malformed data counts as dead.
func allNodesLive(data any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}
	var nodes []map[string]any
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return false
	}
	if len(nodes) == 0 {
		return false
	}
	for _, node := range nodes {
		switch v := node["is_live"].(type) {
		case bool:
			if !v {
				return false
			}
		case string:
			if v != "true" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// withJitter spreads periodic work so concurrent control planes do not tick
// in lockstep.
func withJitter(d, spread time.Duration) time.Duration {
	return d - spread + rand.N(2*spread)
}
