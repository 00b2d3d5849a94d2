package store

import (
	"context"
	"fmt"

	"roachplane/pkg/db"
)

// GetZones returns the catalog rows for every zone of a (cloud, region),
// ordered by zone name. Node placement round-robins over this order.
func (s *Store) GetZones(ctx context.Context, cloud, region string) ([]Region, error) {
	var zones []Region
	err := db.Select(ctx, s.pool, &zones, `
		SELECT cloud, region, zone, vpc_id, security_groups, subnet, image
		FROM regions
		WHERE cloud = $1 AND region = $2
		ORDER BY zone`,
		cloud, region,
	)
	if err != nil {
		return nil, fmt.Errorf("zones for %s:%s: %w", cloud, region, err)
	}
	return zones, nil
}

// ListRegions returns the whole placement catalog.
func (s *Store) ListRegions(ctx context.Context) ([]Region, error) {
	var regions []Region
	err := db.Select(ctx, s.pool, &regions, `
		SELECT cloud, region, zone, vpc_id, security_groups, subnet, image
		FROM regions
		ORDER BY cloud, region, zone`)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	return regions, nil
}

// ListVersions returns the offered database versions.
func (s *Store) ListVersions(ctx context.Context) ([]string, error) {
	var versions []string
	if err := db.Select(ctx, s.pool, &versions, `SELECT version FROM versions ORDER BY version`); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// ListCPUsPerNode returns the offered per-node CPU counts.
func (s *Store) ListCPUsPerNode(ctx context.Context) ([]int, error) {
	var cpus []int
	if err := db.Select(ctx, s.pool, &cpus, `SELECT cpus FROM cpus_per_node ORDER BY cpus`); err != nil {
		return nil, fmt.Errorf("list cpus per node: %w", err)
	}
	return cpus, nil
}

// ListNodesPerRegion returns the offered per-region node counts.
func (s *Store) ListNodesPerRegion(ctx context.Context) ([]int, error) {
	var nodes []int
	if err := db.Select(ctx, s.pool, &nodes, `SELECT nodes FROM nodes_per_region ORDER BY nodes`); err != nil {
		return nil, fmt.Errorf("list nodes per region: %w", err)
	}
	return nodes, nil
}

// ListDiskSizes returns the offered disk sizes in GB.
func (s *Store) ListDiskSizes(ctx context.Context) ([]int, error) {
	var sizes []int
	if err := db.Select(ctx, s.pool, &sizes, `SELECT size_gb FROM disk_sizes ORDER BY size_gb`); err != nil {
		return nil, fmt.Errorf("list disk sizes: %w", err)
	}
	return sizes, nil
}
