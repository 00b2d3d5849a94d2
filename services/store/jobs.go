package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"roachplane/pkg/db"
)

// UpdateJobStatus moves a job to the given status and refreshes its heartbeat
// timestamp. COMPLETED and FAILED are terminal: once a job reaches either, no
// further transition is applied and ErrJobTerminal is returned so the caller
// can stand down. This is what stops a slow worker from resurrecting a job the
// reaper already failed.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID int64, status string) error {
	tag, err := db.Exec(ctx, s.pool, `
		UPDATE jobs SET status = $2, updated_at = now()
		WHERE job_id = $1 AND status NOT IN ($3, $4)`,
		jobID, status, JobCompleted, JobFailed,
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return ErrJobTerminal
	}
	return nil
}

// TouchJob advances a job's heartbeat timestamp without changing its status.
// The runner calls this at least once per heartbeat interval so the zombie
// reaper can tell live jobs from abandoned ones.
func (s *Store) TouchJob(ctx context.Context, jobID int64) error {
	_, err := db.Exec(ctx, s.pool, `
		UPDATE jobs SET updated_at = now() WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("touch job %d: %w", jobID, err)
	}
	return nil
}

// GetJob fetches a single job by id.
func (s *Store) GetJob(ctx context.Context, jobID int64) (Job, error) {
	var j Job
	err := db.Get(ctx, s.pool, &j, `
		SELECT job_id, job_type, status, description, created_by, created_at, updated_at
		FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return j, nil
}

// LinkJobCluster records that a job operates on a cluster.
func (s *Store) LinkJobCluster(ctx context.Context, clusterID string, jobID int64) error {
	_, err := db.Exec(ctx, s.pool, `
		INSERT INTO map_clusters_jobs (cluster_id, job_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		clusterID, jobID,
	)
	if err != nil {
		return fmt.Errorf("link job %d to cluster %s: %w", jobID, clusterID, err)
	}
	return nil
}

// ListLinkedJobs returns all jobs linked to a cluster, newest first.
func (s *Store) ListLinkedJobs(ctx context.Context, clusterID string) ([]Job, error) {
	var jobs []Job
	err := db.Select(ctx, s.pool, &jobs, `
		SELECT j.job_id, j.job_type, j.status, j.description, j.created_by, j.created_at, j.updated_at
		FROM jobs j
		JOIN map_clusters_jobs m ON m.job_id = j.job_id
		WHERE m.cluster_id = $1
		ORDER BY j.job_id DESC`,
		clusterID,
	)
	if err != nil {
		return nil, fmt.Errorf("linked jobs for %s: %w", clusterID, err)
	}
	return jobs, nil
}

// ListJobs returns jobs visible to the principal. Non-admins see only jobs
// linked to clusters in their groups; visibility is transitive through
// map_clusters_jobs.
func (s *Store) ListJobs(ctx context.Context, p Principal) ([]Job, error) {
	admin, err := s.IsAdmin(ctx, p)
	if err != nil {
		return nil, err
	}

	var jobs []Job
	if admin {
		err = db.Select(ctx, s.pool, &jobs, `
			SELECT job_id, job_type, status, description, created_by, created_at, updated_at
			FROM jobs ORDER BY job_id DESC`)
	} else {
		err = db.Select(ctx, s.pool, &jobs, `
			SELECT DISTINCT j.job_id, j.job_type, j.status, j.description, j.created_by, j.created_at, j.updated_at
			FROM jobs j
			JOIN map_clusters_jobs m ON m.job_id = j.job_id
			JOIN clusters c ON c.cluster_id = m.cluster_id
			WHERE c."group" = ANY($1)
			ORDER BY j.job_id DESC`,
			p.Groups)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}
