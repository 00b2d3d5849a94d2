package operations

import (
	"context"
	"errors"
	"strconv"
	"time"

	"roachplane/pkg/bus"
	"roachplane/services/store"
)

const (
	reaperInterval         = time.Minute
	defaultZombieThreshold = 2 * time.Minute
)

// handleReaper fails jobs whose heartbeat stopped. Reaping and scheduling the
// next tick happen in one transaction, so the reaper chain survives a crash
// at any point.
func (h *Handlers) handleReaper(ctx context.Context, msg store.Message) error {
	if err := h.deps.Store.UpdateJobStatus(ctx, msg.MsgID, store.JobRunning); err != nil {
		return err
	}

	threshold := defaultZombieThreshold
	if raw, err := h.deps.Store.GetSetting(ctx, "zombie_threshold"); err == nil {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			threshold = time.Duration(secs) * time.Second
		}
	}

	next := time.Now().Add(withJitter(reaperInterval, healthcheckJitter))
	reaped, err := h.deps.Store.FailZombieJobs(ctx, threshold, next, systemActor)
	if err != nil {
		return err
	}
	for _, jobID := range reaped {
		h.deps.Logger.Printf("WARN job %d reaped: no heartbeat for %s", jobID, threshold)
		h.publish(ctx, bus.JobsFinishedSubject, map[string]any{
			"job_id": jobID,
			"status": store.JobFailed,
			"reason": "heartbeat lost",
		})
	}

	if err := h.deps.Store.UpdateJobStatus(ctx, msg.MsgID, store.JobCompleted); err != nil && !errors.Is(err, store.ErrJobTerminal) {
		return err
	}
	return nil
}
