package store

import (
	"context"
	"fmt"
	"time"

	"roachplane/pkg/db"
)

// AppendTask persists one observable engine event for a job. Task ids are
// assigned by the runner and are strictly increasing within the job.
func (s *Store) AppendTask(ctx context.Context, jobID int64, taskID int, createdAt time.Time, name, desc string) error {
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.Exec(ctx, s.pool, `
		INSERT INTO tasks (job_id, task_id, created_at, task_name, task_desc)
		VALUES ($1, $2, $3, $4, $5)`,
		jobID, taskID, createdAt, name, desc,
	)
	if err != nil {
		return fmt.Errorf("append task %d/%d: %w", jobID, taskID, err)
	}
	return nil
}

// ListTasks returns every task of a job in event order.
func (s *Store) ListTasks(ctx context.Context, jobID int64) ([]Task, error) {
	var tasks []Task
	err := db.Select(ctx, s.pool, &tasks, `
		SELECT job_id, task_id, created_at, task_name, task_desc
		FROM tasks
		WHERE job_id = $1
		ORDER BY task_id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks for job %d: %w", jobID, err)
	}
	return tasks, nil
}
