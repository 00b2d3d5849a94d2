package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"roachplane/pkg/db"
)

// Principal is an already-authenticated caller and its group memberships.
// Authentication itself happens upstream; the store only scopes queries.
type Principal struct {
	User   string
	Groups []string
}

// IsAdmin reports whether any of the principal's groups is mapped to the
// admin role.
func (s *Store) IsAdmin(ctx context.Context, p Principal) (bool, error) {
	var groups string
	err := db.Get(ctx, s.pool, &groups, `
		SELECT groups FROM role_to_groups_mappings WHERE role = 'admin'`)
	if err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("admin role mapping: %w", err)
	}
	return groupsIntersect(splitGroups(groups), p.Groups), nil
}

func splitGroups(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func groupsIntersect(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, g := range a {
		set[g] = struct{}{}
	}
	for _, g := range b {
		if _, ok := set[g]; ok {
			return true
		}
	}
	return false
}
