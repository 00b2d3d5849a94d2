package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"roachplane/services/store"
)

const defaultHeartbeat = 60 * time.Second

// JobStore is the slice of the persistence gateway the runner needs.
type JobStore interface {
	SettingsSource
	UpdateJobStatus(ctx context.Context, jobID int64, status string) error
	TouchJob(ctx context.Context, jobID int64) error
	AppendTask(ctx context.Context, jobID int64, taskID int, createdAt time.Time, name, desc string) error
}

// Runner executes one playbook on behalf of a job: it fetches the playbook,
// launches the engine, converts the event stream into persisted tasks, emits
// heartbeats while the engine is alive, and reports the terminal status plus
// any extracted data payload.
//
// A runner keeps no state across invocations; the caller threads the task
// counter through repeated runs so task ids stay monotonic within a job.
type Runner struct {
	jobs      JobStore
	engine    Engine
	catalog   *Catalog
	forensics *Forensics
	logger    *log.Logger
	workRoot  string
	heartbeat time.Duration
}

// Options tunes optional runner behavior.
type Options struct {
	// Forensics, when set, archives the working directory of failed runs.
	Forensics *Forensics
	// Heartbeat overrides the default 60s job heartbeat interval.
	Heartbeat time.Duration
}

// New creates a Runner. workRoot holds the per-job working directories.
func New(jobs JobStore, engine Engine, catalog *Catalog, logger *log.Logger, workRoot string, opts Options) (*Runner, error) {
	if jobs == nil || engine == nil || catalog == nil {
		return nil, errors.New("jobs, engine, and catalog are required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if workRoot == "" {
		workRoot = filepath.Join(os.TempDir(), "roachplane-jobs")
	}
	hb := opts.Heartbeat
	if hb <= 0 {
		hb = defaultHeartbeat
	}

	return &Runner{
		jobs:      jobs,
		engine:    engine,
		catalog:   catalog,
		forensics: opts.Forensics,
		logger:    logger,
		workRoot:  workRoot,
		heartbeat: hb,
	}, nil
}

// Run executes one playbook for the job. It returns the engine's terminal
// status, the extracted data payload if the playbook emitted one, and the
// next task id. The job is moved to RUNNING on launch and to COMPLETED or
// FAILED on return; the working directory is always removed.
func (r *Runner) Run(ctx context.Context, jobID int64, playbook string, extraVars map[string]any, taskStart int) (string, any, int, error) {
	return r.run(ctx, jobID, playbook, extraVars, taskStart, true)
}

// RunStep is Run for one step of a multi-playbook job: a successful step
// leaves the job RUNNING so the caller can run further steps, while a failed
// step still marks the job FAILED.
func (r *Runner) RunStep(ctx context.Context, jobID int64, playbook string, extraVars map[string]any, taskStart int) (string, any, int, error) {
	return r.run(ctx, jobID, playbook, extraVars, taskStart, false)
}

func (r *Runner) run(ctx context.Context, jobID int64, playbook string, extraVars map[string]any, taskStart int, markCompleted bool) (string, any, int, error) {
	next := taskStart

	workDir, err := r.makeWorkDir(jobID)
	if err != nil {
		_ = r.jobs.UpdateJobStatus(ctx, jobID, store.JobFailed)
		return StatusFailed, nil, next, err
	}
	failed := true
	defer func() {
		if failed && r.forensics != nil {
			r.forensics.Archive(ctx, jobID, workDir)
		}
		if err := os.RemoveAll(workDir); err != nil {
			r.logger.Printf("ERROR job %d: remove workdir: %v", jobID, err)
		}
	}()

	playbookPath, err := r.catalog.Fetch(ctx, playbook, workDir)
	if err != nil {
		_ = r.jobs.UpdateJobStatus(ctx, jobID, store.JobFailed)
		return StatusFailed, nil, next, err
	}

	vars, err := r.mergeGlobals(ctx, extraVars)
	if err != nil {
		_ = r.jobs.UpdateJobStatus(ctx, jobID, store.JobFailed)
		return StatusFailed, nil, next, err
	}

	if err := r.jobs.UpdateJobStatus(ctx, jobID, store.JobRunning); err != nil {
		return StatusFailed, nil, next, err
	}

	run, err := r.engine.Launch(ctx, Invocation{
		PlaybookPath: playbookPath,
		WorkDir:      workDir,
		ExtraVars:    vars,
	})
	if err != nil {
		_ = r.jobs.UpdateJobStatus(ctx, jobID, store.JobFailed)
		return StatusFailed, nil, next, fmt.Errorf("launch %s: %w", playbook, err)
	}

	var data any
	heartbeat := r.heartbeatInterval(ctx)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastBeat := time.Now()

	events := run.Events()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch action, name, desc := classify(ev); action {
			case actionData:
				data = extractData(ev)
			case actionTask:
				if err := r.jobs.AppendTask(ctx, jobID, next, time.Now().UTC(), name, desc); err != nil {
					r.logger.Printf("ERROR job %d: append task %d: %v", jobID, next, err)
				}
				next++
			}
		case <-ticker.C:
			if time.Since(lastBeat) >= heartbeat {
				if err := r.jobs.TouchJob(ctx, jobID); err != nil {
					r.logger.Printf("ERROR job %d: heartbeat: %v", jobID, err)
				}
				lastBeat = time.Now()
			}
		}
	}

	status := run.Status()
	if status == StatusSuccessful {
		failed = false
		if markCompleted {
			if err := r.jobs.UpdateJobStatus(ctx, jobID, store.JobCompleted); err != nil {
				if errors.Is(err, store.ErrJobTerminal) {
					r.logger.Printf("WARN job %d: already terminal, not marking completed", jobID)
				}
				return status, data, next, err
			}
		}
		return status, data, next, nil
	}

	if err := r.jobs.UpdateJobStatus(ctx, jobID, store.JobFailed); err != nil && !errors.Is(err, store.ErrJobTerminal) {
		return status, data, next, err
	}
	return status, data, next, nil
}

// heartbeatInterval resolves the heartbeat interval for one run. Operators
// tune it through the heartbeat_interval setting (seconds); Options.Heartbeat
// and the built-in default back it up.
func (r *Runner) heartbeatInterval(ctx context.Context) time.Duration {
	if raw, err := r.jobs.GetSetting(ctx, "heartbeat_interval"); err == nil {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return r.heartbeat
}

func (r *Runner) makeWorkDir(jobID int64) (string, error) {
	dir := filepath.Join(r.workRoot, fmt.Sprintf("job-%d-%s", jobID, uuid.NewString()[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workdir: %w", err)
	}
	return dir, nil
}

// mergeGlobals layers operator-configured globals under the operation's own
// extra vars. Settings are read at invocation time so changes take effect
// within one cache TTL.
func (r *Runner) mergeGlobals(ctx context.Context, extraVars map[string]any) (map[string]any, error) {
	vars := make(map[string]any, len(extraVars)+5)

	globals := map[string]string{
		"cockroachdb_cluster_organization": "licence_org",
		"cockroachdb_enterprise_license":   "licence_key",
		"default_username":                 "default_username",
		"default_password":                 "default_password",
		"cloud_storage_url":                "cloud_storage_url",
	}
	for varName, settingKey := range globals {
		value, err := r.jobs.GetSetting(ctx, settingKey)
		if err != nil {
			return nil, fmt.Errorf("read setting %s: %w", settingKey, err)
		}
		vars[varName] = value
	}

	for k, v := range extraVars {
		vars[k] = v
	}
	return vars, nil
}
