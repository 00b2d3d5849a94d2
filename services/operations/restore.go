package operations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roachplane/services/runner"
	"roachplane/services/store"
)

// handleRestore loads a backup into a running cluster. The backup object is
// checked for existence before the cluster leaves RUNNING so a typo in the
// path never takes a healthy cluster through a failure status.
func (h *Handlers) handleRestore(ctx context.Context, msg store.Message) error {
	var req RestoreRequest
	if err := decodePayload(msg.MsgData, &req); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}
	if req.BackupPath == "" {
		return h.failJob(ctx, msg.MsgID, "backup_path is required")
	}

	cluster, err := h.deps.Store.GetCluster(ctx, req.Name)
	if errors.Is(err, store.ErrNotFound) {
		return h.failJob(ctx, msg.MsgID, "cluster "+req.Name+" does not exist")
	}
	if err != nil {
		return err
	}
	if err := restoreAllowed(cluster.Status); err != nil {
		return h.failJob(ctx, msg.MsgID, err.Error())
	}

	if h.deps.Backups != nil {
		bucket, key, err := h.backupLocation(ctx, req.BackupPath)
		if err != nil {
			return h.failJob(ctx, msg.MsgID, err.Error())
		}
		if err := h.deps.Backups.HeadObject(ctx, bucket, key); err != nil {
			return h.failJob(ctx, msg.MsgID, fmt.Sprintf("backup %s not found: %v", req.BackupPath, err))
		}
	}

	if err := h.beginClusterOp(ctx, msg, req.Name, store.ClusterRestoring); err != nil {
		return err
	}

	h.deps.Spawn.Go(func(ctx context.Context) {
		vars := map[string]any{
			"deployment_id": req.Name,
			"backup_path":   req.BackupPath,
		}
		status, _, _, err := h.deps.Runner.Run(ctx, msg.MsgID, store.MsgRestoreCluster, vars, 0)
		if errors.Is(err, store.ErrJobTerminal) {
			h.deps.Logger.Printf("WARN job %d: reaped while restoring %s, standing down", msg.MsgID, req.Name)
			return
		}
		if err != nil {
			h.deps.Logger.Printf("ERROR job %d: restore %s: %v", msg.MsgID, req.Name, err)
		}
		if err != nil || status != runner.StatusSuccessful {
			_ = h.setClusterStatus(ctx, req.Name, systemActor, store.ClusterRestoreFailed, msg.MsgID)
			h.publishJobFinished(ctx, msg.MsgID, store.JobFailed)
			return
		}
		_ = h.setClusterStatus(ctx, req.Name, systemActor, store.ClusterRunning, msg.MsgID)
		h.publishJobFinished(ctx, msg.MsgID, store.JobCompleted)
	})
	return nil
}

// backupLocation resolves a backup path to (bucket, key). Relative paths are
// anchored under the configured cloud_storage_url.
func (h *Handlers) backupLocation(ctx context.Context, path string) (string, string, error) {
	if strings.HasPrefix(path, "s3://") {
		bucket, prefix, err := runner.ParseStorageURL(path)
		if err != nil {
			return "", "", err
		}
		return bucket, prefix, nil
	}

	base, err := h.deps.Store.GetSetting(ctx, "cloud_storage_url")
	if err != nil {
		return "", "", fmt.Errorf("read cloud_storage_url: %w", err)
	}
	bucket, prefix, err := runner.ParseStorageURL(base)
	if err != nil {
		return "", "", err
	}
	key := strings.TrimPrefix(path, "/")
	if prefix != "" {
		key = strings.TrimSuffix(prefix, "/") + "/" + key
	}
	return bucket, key, nil
}
