package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"roachplane/pkg/db"
)

// ClusterUpdate carries the optional fields of UpdateCluster. Nil fields are
// preserved as-is in the database.
type ClusterUpdate struct {
	Status           *string
	Version          *string
	NodeCount        *int
	NodeCPUs         *int
	DiskSize         *int
	ClusterInventory *[]InventoryRegion
	LBsInventory     *[]InventoryLB
}

// CreateCluster inserts a new cluster row. ErrClusterExists is returned when
// the id is already taken.
func (s *Store) CreateCluster(ctx context.Context, c Cluster) error {
	_, err := db.Exec(ctx, s.pool, `
		INSERT INTO clusters
			(cluster_id, "group", status, version, node_count, node_cpus, disk_size,
			 cluster_inventory, lbs_inventory, created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), $10, now())`,
		c.ClusterID, c.Group, c.Status, c.Version, c.NodeCount, c.NodeCPUs, c.DiskSize,
		nullableJSON(c.ClusterInventory), nullableJSON(c.LBsInventory), c.CreatedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrClusterExists
		}
		return fmt.Errorf("create cluster %s: %w", c.ClusterID, err)
	}
	return nil
}

// ReplaceCluster overwrites an existing cluster row with a fresh shape while
// keeping its identity. Used by recreate, which is allowed from any status.
func (s *Store) ReplaceCluster(ctx context.Context, c Cluster) error {
	tag, err := db.Exec(ctx, s.pool, `
		UPDATE clusters
		SET "group" = $2, status = $3, version = $4, node_count = $5, node_cpus = $6,
		    disk_size = $7, cluster_inventory = NULL, lbs_inventory = NULL,
		    updated_by = $8, updated_at = now()
		WHERE cluster_id = $1`,
		c.ClusterID, c.Group, c.Status, c.Version, c.NodeCount, c.NodeCPUs, c.DiskSize, c.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("replace cluster %s: %w", c.ClusterID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.CreateCluster(ctx, c)
	}
	return nil
}

// UpdateCluster applies the non-nil fields of upd to the cluster. Unspecified
// fields keep their current values.
func (s *Store) UpdateCluster(ctx context.Context, clusterID, updatedBy string, upd ClusterUpdate) error {
	var invJSON, lbsJSON any
	if upd.ClusterInventory != nil {
		data, err := json.Marshal(*upd.ClusterInventory)
		if err != nil {
			return err
		}
		invJSON = string(data)
	}
	if upd.LBsInventory != nil {
		data, err := json.Marshal(*upd.LBsInventory)
		if err != nil {
			return err
		}
		lbsJSON = string(data)
	}

	tag, err := db.Exec(ctx, s.pool, `
		UPDATE clusters
		SET status            = COALESCE($2, status),
		    version           = COALESCE($3, version),
		    node_count        = COALESCE($4, node_count),
		    node_cpus         = COALESCE($5, node_cpus),
		    disk_size         = COALESCE($6, disk_size),
		    cluster_inventory = COALESCE($7::jsonb, cluster_inventory),
		    lbs_inventory     = COALESCE($8::jsonb, lbs_inventory),
		    updated_by        = $9,
		    updated_at        = now()
		WHERE cluster_id = $1`,
		clusterID, upd.Status, upd.Version, upd.NodeCount, upd.NodeCPUs, upd.DiskSize,
		invJSON, lbsJSON, updatedBy,
	)
	if err != nil {
		return fmt.Errorf("update cluster %s: %w", clusterID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCluster fetches one cluster by id.
func (s *Store) GetCluster(ctx context.Context, clusterID string) (Cluster, error) {
	var c Cluster
	err := db.Get(ctx, s.pool, &c, `
		SELECT cluster_id, "group", status, version, node_count, node_cpus, disk_size,
		       cluster_inventory, lbs_inventory, created_by, created_at, updated_by, updated_at
		FROM clusters
		WHERE cluster_id = $1`,
		clusterID,
	)
	if err != nil {
		if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
			return Cluster{}, ErrNotFound
		}
		return Cluster{}, fmt.Errorf("get cluster %s: %w", clusterID, err)
	}
	return c, nil
}

// GetRunningClusters lists every cluster currently in RUNNING status.
func (s *Store) GetRunningClusters(ctx context.Context) ([]Cluster, error) {
	var clusters []Cluster
	err := db.Select(ctx, s.pool, &clusters, `
		SELECT cluster_id, "group", status, version, node_count, node_cpus, disk_size,
		       cluster_inventory, lbs_inventory, created_by, created_at, updated_by, updated_at
		FROM clusters
		WHERE status = $1
		ORDER BY cluster_id`,
		ClusterRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("running clusters: %w", err)
	}
	return clusters, nil
}

// ListClusters returns clusters visible to the principal: everything for
// admins, otherwise only clusters whose group the principal belongs to.
func (s *Store) ListClusters(ctx context.Context, p Principal) ([]Cluster, error) {
	admin, err := s.IsAdmin(ctx, p)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT cluster_id, "group", status, version, node_count, node_cpus, disk_size,
		       cluster_inventory, lbs_inventory, created_by, created_at, updated_by, updated_at
		FROM clusters`
	var clusters []Cluster
	if admin {
		err = db.Select(ctx, s.pool, &clusters, query+` ORDER BY cluster_id`)
	} else {
		err = db.Select(ctx, s.pool, &clusters, query+` WHERE "group" = ANY($1) ORDER BY cluster_id`, p.Groups)
	}
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	return clusters, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
