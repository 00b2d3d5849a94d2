package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"roachplane/pkg/db"
)

// Enqueue atomically inserts a queue message and its QUEUED job. The two rows
// share the generated id, which is returned.
func (s *Store) Enqueue(ctx context.Context, msgType string, payload any, createdBy string, startAfter time.Time) (int64, error) {
	var jobID int64
	err := db.WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		jobID, err = enqueueTx(ctx, tx, msgType, payload, createdBy, startAfter)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return jobID, nil
}

func enqueueTx(ctx context.Context, tx pgx.Tx, msgType string, payload any, createdBy string, startAfter time.Time) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	if startAfter.IsZero() {
		startAfter = time.Now().UTC()
	}

	var jobID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO jobs (job_type, status, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING job_id`,
		msgType, JobQueued, string(data), createdBy,
	).Scan(&jobID)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO mq (msg_id, start_after, msg_type, msg_data, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		jobID, startAfter, msgType, string(data), createdBy,
	)
	if err != nil {
		return 0, err
	}
	return jobID, nil
}

// LeaseOne selects the earliest visible message and locks its row for the
// lifetime of tx. Rows leased by a parallel consumer are skipped, so two
// dispatchers never observe the same message.
func (s *Store) LeaseOne(ctx context.Context, tx pgx.Tx) (Message, error) {
	var msg Message
	err := pgxscan.Get(ctx, tx, &msg, `
		SELECT msg_id, start_after, msg_type, msg_data, created_by, created_at
		FROM mq
		WHERE start_after <= now()
		ORDER BY start_after, msg_id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNoMessage
		}
		return Message{}, fmt.Errorf("lease message: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes a message row within the leasing transaction.
func (s *Store) DeleteMessage(ctx context.Context, tx pgx.Tx, msgID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM mq WHERE msg_id = $1`, msgID)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", msgID, err)
	}
	return nil
}

// ConsumeOne leases one visible message, invokes fn while the row lock is
// held, deletes the message, and commits. It reports whether a message was
// consumed. fn must not block on long-running work; handlers hand that off to
// a worker before returning.
func (s *Store) ConsumeOne(ctx context.Context, fn func(ctx context.Context, msg Message) error) (bool, error) {
	consumed := false
	err := db.WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		msg, err := s.LeaseOne(ctx, tx)
		if err != nil {
			if errors.Is(err, ErrNoMessage) {
				return nil
			}
			return err
		}
		consumed = true

		if err := fn(ctx, msg); err != nil {
			return err
		}
		return s.DeleteMessage(ctx, tx, msg.MsgID)
	})
	return consumed, err
}

// HasPendingMessage reports whether a message of msgType is waiting on the
// queue, visible or not. Startup uses it to seed the periodic loops exactly
// once.
func (s *Store) HasPendingMessage(ctx context.Context, msgType string) (bool, error) {
	var count int
	err := db.Get(ctx, s.pool, &count, `SELECT count(*) FROM mq WHERE msg_type = $1`, msgType)
	if err != nil {
		return false, fmt.Errorf("count pending %s: %w", msgType, err)
	}
	return count > 0, nil
}

// FailZombieJobs marks every RUNNING or SCHEDULED job whose heartbeat is older
// than threshold as FAILED, and atomically enqueues the next reaper tick at
// nextTick. It returns the ids of the reaped jobs.
func (s *Store) FailZombieJobs(ctx context.Context, threshold time.Duration, nextTick time.Time, createdBy string) ([]int64, error) {
	var reaped []int64
	err := db.WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE jobs
			SET status = $1, updated_at = now()
			WHERE status IN ($2, $3)
			  AND updated_at < now() - $4::interval
			RETURNING job_id`,
			JobFailed, JobRunning, JobScheduled,
			fmt.Sprintf("%d seconds", int(threshold.Seconds())),
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			reaped = append(reaped, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		_, err = enqueueTx(ctx, tx, MsgFailZombieJobs, map[string]any{}, createdBy, nextTick)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fail zombie jobs: %w", err)
	}
	return reaped, nil
}
