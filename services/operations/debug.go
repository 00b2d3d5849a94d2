package operations

import (
	"context"
	"errors"
	"regexp"

	"roachplane/services/runner"
	"roachplane/services/store"
)

// Diagnostic playbooks come from the same catalog as lifecycle playbooks, so
// the name is restricted to catalog-shaped identifiers.
var playbookNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// handleDebug runs an arbitrary diagnostic playbook against a cluster. The
// cluster's status is never touched; only the job records the outcome.
func (h *Handlers) handleDebug(ctx context.Context, msg store.Message) error {
	var req DebugRequest
	if err := decodePayload(msg.MsgData, &req); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}
	if !playbookNameRe.MatchString(req.Playbook) {
		return h.failJob(ctx, msg.MsgID, "invalid playbook name")
	}

	cluster, err := h.deps.Store.GetCluster(ctx, req.Name)
	if errors.Is(err, store.ErrNotFound) {
		return h.failJob(ctx, msg.MsgID, "cluster "+req.Name+" does not exist")
	}
	if err != nil {
		return err
	}
	if err := debugAllowed(cluster.Status); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}

	if err := h.deps.Store.LinkJobCluster(ctx, req.Name, msg.MsgID); err != nil {
		return err
	}
	if err := h.deps.Store.UpdateJobStatus(ctx, msg.MsgID, store.JobScheduled); err != nil {
		return err
	}

	h.deps.Spawn.Go(func(ctx context.Context) {
		inventory, err := cluster.Inventory()
		if err != nil {
			h.deps.Logger.Printf("ERROR job %d: decode inventory: %v", msg.MsgID, err)
		}
		vars := map[string]any{
			"deployment_id": req.Name,
			"current_hosts": inventoryHosts(inventory),
		}
		status, _, _, err := h.deps.Runner.Run(ctx, msg.MsgID, req.Playbook, vars, 0)
		if errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("WARN job %d: reaped while debugging %s, standing down", msg.MsgID, req.Name)
			return
		}
		if err != nil {
			h.deps.Logger.Printf("ERROR job %d: debug %s: %v", msg.MsgID, req.Name, err)
		}
		if err != nil || status != runner.StatusSuccessful {
			h.publishJobFinished(ctx, msg.MsgID, store.JobFailed)
			return
		}
		h.publishJobFinished(ctx, msg.MsgID, store.JobCompleted)
	})
	return nil
}
