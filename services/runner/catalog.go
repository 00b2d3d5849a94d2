package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultCacheExpiry = 5 * time.Minute

// SettingsSource provides operator-tunable settings read at use time.
type SettingsSource interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// Catalog fetches playbook definitions from the remote catalog configured by
// the playbooks_url setting and keeps validated copies in a local cache
// directory, refreshed when playbooks_url_cache_expiry lapses.
type Catalog struct {
	settings SettingsSource
	client   *http.Client
	dir      string

	mu      sync.Mutex
	fetched map[string]time.Time
}

// NewCatalog creates a catalog caching under dir.
func NewCatalog(settings SettingsSource, dir string) (*Catalog, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "roachplane-playbooks")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Catalog{
		settings: settings,
		client:   &http.Client{Timeout: 30 * time.Second},
		dir:      dir,
		fetched:  make(map[string]time.Time),
	}, nil
}

// Fetch ensures a fresh copy of the named playbook and places it inside
// destDir, returning its path. The job fails upstream when the fetch fails.
func (c *Catalog) Fetch(ctx context.Context, name, destDir string) (string, error) {
	cached, err := c.ensure(ctx, name)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(cached)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, name+".yaml")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

func (c *Catalog) ensure(ctx context.Context, name string) (string, error) {
	expiry := c.cacheExpiry(ctx)
	path := filepath.Join(c.dir, name+".yaml")

	c.mu.Lock()
	fetchedAt, ok := c.fetched[name]
	c.mu.Unlock()
	if ok && time.Since(fetchedAt) < expiry {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	baseURL, err := c.settings.GetSetting(ctx, "playbooks_url")
	if err != nil {
		return "", fmt.Errorf("playbook catalog url: %w", err)
	}

	url := baseURL + name + ".yaml"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch playbook %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch playbook %s: unexpected status %d", name, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("fetch playbook %s: %w", name, err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("playbook %s is not valid yaml: %w", name, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.fetched[name] = time.Now()
	c.mu.Unlock()

	return path, nil
}

func (c *Catalog) cacheExpiry(ctx context.Context) time.Duration {
	raw, err := c.settings.GetSetting(ctx, "playbooks_url_cache_expiry")
	if err != nil {
		return defaultCacheExpiry
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return defaultCacheExpiry
	}
	return time.Duration(secs) * time.Second
}
