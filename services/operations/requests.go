package operations

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// CloudRegion identifies one (cloud, region) placement target.
type CloudRegion struct {
	Cloud  string `json:"cloud"`
	Region string `json:"region"`
}

func (cr CloudRegion) String() string {
	return cr.Cloud + ":" + cr.Region
}

// ParseCloudRegion parses a "cloud:region" specifier.
func ParseCloudRegion(raw string) (CloudRegion, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return CloudRegion{}, fmt.Errorf("invalid region specifier %q, want cloud:region", raw)
	}
	return CloudRegion{Cloud: parts[0], Region: parts[1]}, nil
}

func parseCloudRegions(raw []string) ([]CloudRegion, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one region is required")
	}
	out := make([]CloudRegion, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		cr, err := ParseCloudRegion(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[cr.String()]; dup {
			continue
		}
		seen[cr.String()] = struct{}{}
		out = append(out, cr)
	}
	return out, nil
}

var clusterNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// CreateRequest is the payload of CREATE_CLUSTER and RECREATE_CLUSTER.
type CreateRequest struct {
	Name      string   `json:"name"`
	Group     string   `json:"group"`
	Version   string   `json:"version"`
	NodeCount int      `json:"node_count"`
	NodeCPUs  int      `json:"node_cpus"`
	DiskSize  int      `json:"disk_size"`
	Regions   []string `json:"regions"`
}

func (r CreateRequest) validate() error {
	if !clusterNameRe.MatchString(r.Name) {
		return fmt.Errorf("cluster name %q must be lowercase and hyphenated", r.Name)
	}
	if r.Group == "" {
		return fmt.Errorf("group is required")
	}
	if r.Version == "" {
		return fmt.Errorf("version is required")
	}
	if r.NodeCount <= 0 {
		return fmt.Errorf("node_count must be positive")
	}
	if r.NodeCPUs <= 0 {
		return fmt.Errorf("node_cpus must be positive")
	}
	if r.DiskSize <= 0 {
		return fmt.Errorf("disk_size must be positive")
	}
	if len(r.Regions) == 0 {
		return fmt.Errorf("at least one region is required")
	}
	return nil
}

// DeleteRequest is the payload of DELETE_CLUSTER.
type DeleteRequest struct {
	Name string `json:"name"`
}

// ScaleRequest is the payload of SCALE_CLUSTER: the full desired shape.
type ScaleRequest struct {
	Name      string   `json:"name"`
	NodeCount int      `json:"node_count"`
	NodeCPUs  int      `json:"node_cpus"`
	DiskSize  int      `json:"disk_size"`
	Regions   []string `json:"regions"`
}

// UpgradeRequest is the payload of UPGRADE_CLUSTER.
type UpgradeRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RestoreRequest is the payload of RESTORE_CLUSTER.
type RestoreRequest struct {
	Name       string `json:"name"`
	BackupPath string `json:"backup_path"`
}

// DebugRequest is the payload of DEBUG_CLUSTER: run an arbitrary diagnostic
// playbook against a cluster without changing its state.
type DebugRequest struct {
	Name     string `json:"name"`
	Playbook string `json:"playbook"`
}

func decodePayload(data string, dest any) error {
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("decode request payload: %w", err)
	}
	return nil
}

// regionsDiff computes the added and removed sets between current and
// desired, in stable order.
func regionsDiff(current, desired []CloudRegion) (added, removed []CloudRegion) {
	cur := make(map[string]CloudRegion, len(current))
	for _, r := range current {
		cur[r.String()] = r
	}
	des := make(map[string]CloudRegion, len(desired))
	for _, r := range desired {
		des[r.String()] = r
	}

	for key, r := range des {
		if _, ok := cur[key]; !ok {
			added = append(added, r)
		}
	}
	for key, r := range cur {
		if _, ok := des[key]; !ok {
			removed = append(removed, r)
		}
	}

	sort.Slice(added, func(i, j int) bool { return added[i].String() < added[j].String() })
	sort.Slice(removed, func(i, j int) bool { return removed[i].String() < removed[j].String() })
	return added, removed
}
