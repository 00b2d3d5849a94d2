package store

import (
	"context"
	"fmt"

	"roachplane/pkg/db"
)

// AppendEvent records one operator-initiated action in the audit log.
func (s *Store) AppendEvent(ctx context.Context, createdBy, eventType, details string) error {
	_, err := db.Exec(ctx, s.pool, `
		INSERT INTO event_log (created_at, created_by, event_type, event_details)
		VALUES (now(), $1, $2, $3)`,
		createdBy, eventType, details,
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", eventType, err)
	}
	return nil
}

// ListEvents returns the most recent audit entries, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]EventLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []EventLog
	err := db.Select(ctx, s.pool, &events, `
		SELECT id, created_at, created_by, event_type, event_details
		FROM event_log
		ORDER BY id DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
