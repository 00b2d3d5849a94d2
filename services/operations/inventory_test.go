package operations

import (
	"testing"

	"roachplane/services/store"
)

func TestParseInventory(t *testing.T) {
	data := map[string]any{
		"cockroachdb": []map[string]any{
			{"cloud": "aws", "region": "us-east-1", "public_ip": "10.0.0.1"},
			{"cloud": "aws", "region": "us-east-1", "public_ip": "10.0.0.2"},
			{"cloud": "gcp", "region": "eu-west1", "public_ip": "10.1.0.1"},
		},
		"haproxy": []map[string]any{
			{"cloud": "aws", "region": "us-east-1", "public_ip": "lb-east.example.com"},
			{"cloud": "gcp", "region": "eu-west1", "public_ip": "lb-eu.example.com"},
		},
	}
	regions := []CloudRegion{
		{Cloud: "aws", Region: "us-east-1"},
		{Cloud: "gcp", Region: "eu-west1"},
	}

	inventory, lbs, err := ParseInventory(data, regions)
	if err != nil {
		t.Fatalf("ParseInventory: %v", err)
	}

	if len(inventory) != 2 {
		t.Fatalf("got %d inventory regions, want 2", len(inventory))
	}
	if got := inventory[0]; got.Cloud != "aws" || got.Region != "us-east-1" || len(got.Nodes) != 2 {
		t.Errorf("us-east-1 entry = %+v", got)
	}
	if got := inventory[1]; len(got.Nodes) != 1 || got.Nodes[0] != "10.1.0.1" {
		t.Errorf("eu-west1 entry = %+v", got)
	}

	if len(lbs) != 2 {
		t.Fatalf("got %d load balancers, want 2", len(lbs))
	}
	if lbs[0].DNSAddress != "lb-east.example.com" {
		t.Errorf("lb dns = %q", lbs[0].DNSAddress)
	}
}

func TestParseInventoryRegionWithoutHosts(t *testing.T) {
	data := map[string]any{
		"cockroachdb": []map[string]any{
			{"cloud": "aws", "region": "us-east-1", "public_ip": "10.0.0.1"},
		},
	}
	regions := []CloudRegion{
		{Cloud: "aws", Region: "us-east-1"},
		{Cloud: "gcp", Region: "eu-west1"},
	}

	inventory, _, err := ParseInventory(data, regions)
	if err != nil {
		t.Fatalf("ParseInventory: %v", err)
	}
	// Every requested region appears, even with no realized hosts yet.
	if len(inventory) != 2 {
		t.Fatalf("got %d inventory regions, want 2", len(inventory))
	}
	if len(inventory[1].Nodes) != 0 {
		t.Errorf("empty region carries nodes: %+v", inventory[1])
	}
}

func TestParseInventoryNilData(t *testing.T) {
	if _, _, err := ParseInventory(nil, nil); err == nil {
		t.Fatal("expected error for missing data")
	}
}

func TestInventoryHosts(t *testing.T) {
	regions := []store.InventoryRegion{
		{Cloud: "aws", Region: "us-east-1", Nodes: []string{"a", "b"}},
		{Cloud: "gcp", Region: "eu-west1", Nodes: []string{"c"}},
	}
	hosts := inventoryHosts(regions)
	if len(hosts) != 3 || hosts[2] != "c" {
		t.Fatalf("inventoryHosts = %v", hosts)
	}
}
