package store

import (
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"roachplane/pkg/agekey"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNoMessage is returned by LeaseOne when no message is visible.
	ErrNoMessage = errors.New("store: no visible message")
	// ErrClusterExists is returned when creating a cluster whose id is taken.
	ErrClusterExists = errors.New("store: cluster already exists")
	// ErrJobTerminal is returned by UpdateJobStatus when the job is already
	// COMPLETED or FAILED; terminal statuses are never overwritten.
	ErrJobTerminal = errors.New("store: job already terminal")
)

const settingsCacheTTL = 30 * time.Second

// Store is the typed gateway to the authoritative database: clusters, jobs,
// tasks, the message queue, settings, secrets, catalogs, and the event log.
type Store struct {
	pool   *pgxpool.Pool
	keeper *agekey.Keeper

	settingsMu    sync.Mutex
	settingsCache map[string]cachedSetting
}

type cachedSetting struct {
	value   string
	expires time.Time
}

// New creates a Store backed by the provided pool. The keeper is optional;
// without it GetSecret returns an error.
func New(pool *pgxpool.Pool, keeper *agekey.Keeper) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{
		pool:          pool,
		keeper:        keeper,
		settingsCache: make(map[string]cachedSetting),
	}, nil
}
