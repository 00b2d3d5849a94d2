package operations

import (
	"reflect"
	"testing"
)

func TestParseCloudRegion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    CloudRegion
		wantErr bool
	}{
		{name: "valid", input: "aws:us-east-1", want: CloudRegion{Cloud: "aws", Region: "us-east-1"}},
		{name: "missing region", input: "aws:", wantErr: true},
		{name: "missing cloud", input: ":us-east-1", wantErr: true},
		{name: "no separator", input: "aws-us-east-1", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCloudRegion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCloudRegion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("ParseCloudRegion(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCloudRegionsDedupes(t *testing.T) {
	got, err := parseCloudRegions([]string{"aws:us-east-1", "gcp:eu-west1", "aws:us-east-1"})
	if err != nil {
		t.Fatalf("parseCloudRegions: %v", err)
	}
	want := []CloudRegion{
		{Cloud: "aws", Region: "us-east-1"},
		{Cloud: "gcp", Region: "eu-west1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRegionsDiff(t *testing.T) {
	tests := []struct {
		name        string
		current     []CloudRegion
		desired     []CloudRegion
		wantAdded   []CloudRegion
		wantRemoved []CloudRegion
	}{
		{
			name:    "identical",
			current: []CloudRegion{{Cloud: "aws", Region: "us-east-1"}},
			desired: []CloudRegion{{Cloud: "aws", Region: "us-east-1"}},
		},
		{
			name:      "region added",
			current:   []CloudRegion{{Cloud: "aws", Region: "us-east-1"}},
			desired:   []CloudRegion{{Cloud: "aws", Region: "us-east-1"}, {Cloud: "gcp", Region: "eu-west1"}},
			wantAdded: []CloudRegion{{Cloud: "gcp", Region: "eu-west1"}},
		},
		{
			name:        "region removed",
			current:     []CloudRegion{{Cloud: "aws", Region: "us-east-1"}, {Cloud: "gcp", Region: "eu-west1"}},
			desired:     []CloudRegion{{Cloud: "gcp", Region: "eu-west1"}},
			wantRemoved: []CloudRegion{{Cloud: "aws", Region: "us-east-1"}},
		},
		{
			name:        "swap",
			current:     []CloudRegion{{Cloud: "aws", Region: "us-east-1"}},
			desired:     []CloudRegion{{Cloud: "aws", Region: "us-west-2"}},
			wantAdded:   []CloudRegion{{Cloud: "aws", Region: "us-west-2"}},
			wantRemoved: []CloudRegion{{Cloud: "aws", Region: "us-east-1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed := regionsDiff(tt.current, tt.desired)
			if !reflect.DeepEqual(added, tt.wantAdded) {
				t.Errorf("added = %v, want %v", added, tt.wantAdded)
			}
			if !reflect.DeepEqual(removed, tt.wantRemoved) {
				t.Errorf("removed = %v, want %v", removed, tt.wantRemoved)
			}
		})
	}
}

func TestCreateRequestValidate(t *testing.T) {
	valid := CreateRequest{
		Name:      "orders-prod",
		Group:     "payments",
		Version:   "v24.1.0",
		NodeCount: 3,
		NodeCPUs:  4,
		DiskSize:  100,
		Regions:   []string{"aws:us-east-1"},
	}
	if err := valid.validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{name: "uppercase name", mutate: func(r *CreateRequest) { r.Name = "Orders" }},
		{name: "name starts with digit", mutate: func(r *CreateRequest) { r.Name = "1orders" }},
		{name: "empty group", mutate: func(r *CreateRequest) { r.Group = "" }},
		{name: "empty version", mutate: func(r *CreateRequest) { r.Version = "" }},
		{name: "zero nodes", mutate: func(r *CreateRequest) { r.NodeCount = 0 }},
		{name: "negative cpus", mutate: func(r *CreateRequest) { r.NodeCPUs = -1 }},
		{name: "zero disk", mutate: func(r *CreateRequest) { r.DiskSize = 0 }},
		{name: "no regions", mutate: func(r *CreateRequest) { r.Regions = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			if err := req.validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
