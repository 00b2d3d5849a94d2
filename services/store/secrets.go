package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"roachplane/pkg/db"
)

// GetSecret fetches and decrypts a secret. Secrets are stored age-encrypted
// to the control plane's recipient.
func (s *Store) GetSecret(ctx context.Context, key string) (string, error) {
	if s.keeper == nil {
		return "", errors.New("store: no secret keeper configured")
	}

	var data []byte
	err := db.Get(ctx, s.pool, &data, `SELECT data FROM secrets WHERE id = $1`, key)
	if err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("secret %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("secret %q: %w", key, err)
	}

	plain, err := s.keeper.Decrypt(data)
	if err != nil {
		return "", fmt.Errorf("secret %q: %w", key, err)
	}
	return string(plain), nil
}

// PutSecret encrypts and upserts a secret.
func (s *Store) PutSecret(ctx context.Context, key, value string) error {
	if s.keeper == nil {
		return errors.New("store: no secret keeper configured")
	}

	sealed, err := s.keeper.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("secret %q: %w", key, err)
	}

	_, err = db.Exec(ctx, s.pool, `
		INSERT INTO secrets (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		key, sealed,
	)
	if err != nil {
		return fmt.Errorf("secret %q: %w", key, err)
	}
	return nil
}
