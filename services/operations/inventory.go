package operations

import (
	"encoding/json"
	"fmt"

	"roachplane/services/store"
)

type extractedHost struct {
	Cloud    string `json:"cloud"`
	Region   string `json:"region"`
	PublicIP string `json:"public_ip"`
}

type extractedHosts struct {
	CockroachDB []extractedHost `json:"cockroachdb"`
	HAProxy     []extractedHost `json:"haproxy"`
}

// ParseInventory converts the engine's extracted data payload into the
// realized inventories: one region entry per requested (cloud, region) and
// one load balancer per HAProxy host.
func ParseInventory(data any, regions []CloudRegion) ([]store.InventoryRegion, []store.InventoryLB, error) {
	if data == nil {
		return nil, nil, fmt.Errorf("engine returned no inventory data")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("re-encode inventory data: %w", err)
	}
	var hosts extractedHosts
	if err := json.Unmarshal(raw, &hosts); err != nil {
		return nil, nil, fmt.Errorf("decode inventory data: %w", err)
	}

	byRegion := make(map[string][]string, len(regions))
	for _, h := range hosts.CockroachDB {
		key := h.Cloud + ":" + h.Region
		byRegion[key] = append(byRegion[key], h.PublicIP)
	}

	inventory := make([]store.InventoryRegion, 0, len(regions))
	for _, cr := range regions {
		inventory = append(inventory, store.InventoryRegion{
			Cloud:  cr.Cloud,
			Region: cr.Region,
			Nodes:  byRegion[cr.String()],
		})
	}

	lbs := make([]store.InventoryLB, 0, len(hosts.HAProxy))
	for _, h := range hosts.HAProxy {
		lbs = append(lbs, store.InventoryLB{
			Cloud:      h.Cloud,
			Region:     h.Region,
			DNSAddress: h.PublicIP,
		})
	}

	return inventory, lbs, nil
}

// inventoryHosts flattens a cluster's realized inventory into the list of
// node addresses.
func inventoryHosts(regions []store.InventoryRegion) []string {
	var hosts []string
	for _, r := range regions {
		hosts = append(hosts, r.Nodes...)
	}
	return hosts
}

// inventoryRegions lists the (cloud, region) pairs a cluster is realized in.
func inventoryRegions(regions []store.InventoryRegion) []CloudRegion {
	out := make([]CloudRegion, 0, len(regions))
	for _, r := range regions {
		out = append(out, CloudRegion{Cloud: r.Cloud, Region: r.Region})
	}
	return out
}
