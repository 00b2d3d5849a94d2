package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"roachplane/pkg/db"
)

// GetSetting returns the effective value of a settings key: the stored value
// when set, otherwise the default. Values are cached per process for a short
// TTL; stale reads are acceptable because settings are idempotent to re-read.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	s.settingsMu.Lock()
	if cached, ok := s.settingsCache[key]; ok && time.Now().Before(cached.expires) {
		s.settingsMu.Unlock()
		return cached.value, nil
	}
	s.settingsMu.Unlock()

	var value string
	err := db.Get(ctx, s.pool, &value, `
		SELECT COALESCE(NULLIF(value, ''), default_value)
		FROM settings
		WHERE id = $1`,
		key,
	)
	if err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("setting %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("setting %q: %w", key, err)
	}

	s.settingsMu.Lock()
	s.settingsCache[key] = cachedSetting{value: value, expires: time.Now().Add(settingsCacheTTL)}
	s.settingsMu.Unlock()

	return value, nil
}

// SetSetting updates a settings key and invalidates the local cache entry.
func (s *Store) SetSetting(ctx context.Context, key, value, updatedBy string) error {
	tag, err := db.Exec(ctx, s.pool, `
		UPDATE settings SET value = $2, updated_by = $3, updated_at = now() WHERE id = $1`,
		key, value, updatedBy,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("setting %q: %w", key, ErrNotFound)
	}

	s.settingsMu.Lock()
	delete(s.settingsCache, key)
	s.settingsMu.Unlock()
	return nil
}

// ListSettings returns every settings row.
func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	var settings []Setting
	err := db.Select(ctx, s.pool, &settings, `
		SELECT id, value, default_value, description, updated_by, updated_at
		FROM settings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return settings, nil
}
