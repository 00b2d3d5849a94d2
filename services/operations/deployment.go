package operations

import (
	"context"
	"fmt"

	"roachplane/services/store"
)

// Volume scaling factors: provisioned IOPS and throughput grow linearly with
// the per-node CPU count.
const (
	iopsPerCPU       = 500
	throughputPerCPU = 30

	osDiskSizeGB = 20
	osDiskType   = "standard-ssd"

	roleCockroachDB = "cockroachdb"
	roleHAProxy     = "haproxy"
)

// VolumeSpec describes the data volume attached to each database node.
type VolumeSpec struct {
	SizeGB     int    `json:"size_gb"`
	Type       string `json:"type"`
	IOPS       int    `json:"iops"`
	Throughput int    `json:"throughput"`
}

// DiskSpec describes the fixed OS disk.
type DiskSpec struct {
	SizeGB int    `json:"size_gb"`
	Type   string `json:"type"`
}

// DeploymentBlock is one placement unit of a deployment descriptor: an
// HAProxy block per region, and a CockroachDB block per zone.
type DeploymentBlock struct {
	Role           string      `json:"role"`
	Cloud          string      `json:"cloud"`
	Region         string      `json:"region"`
	Zone           string      `json:"zone"`
	VpcID          string      `json:"vpc_id"`
	SecurityGroups string      `json:"security_groups"`
	Subnet         string      `json:"subnet"`
	Image          string      `json:"image"`
	ExactCount     int         `json:"exact_count"`
	CPUs           int         `json:"cpus"`
	OSDisk         DiskSpec    `json:"os_disk"`
	Volume         *VolumeSpec `json:"volume,omitempty"`
}

// ZoneCatalog resolves the placement zones of a (cloud, region).
type ZoneCatalog interface {
	GetZones(ctx context.Context, cloud, region string) ([]store.Region, error)
}

// BuildDeployment assembles the deployment descriptor shared by create and
// every scale sub-operation: per region, one HAProxy block plus one
// CockroachDB block per zone, with nodeCount nodes round-robined across the
// region's zones.
func BuildDeployment(ctx context.Context, catalog ZoneCatalog, regions []CloudRegion, nodeCount, cpus, diskGB int) ([]DeploymentBlock, error) {
	if nodeCount <= 0 {
		return nil, fmt.Errorf("node count must be positive")
	}

	var blocks []DeploymentBlock
	for _, cr := range regions {
		zones, err := catalog.GetZones(ctx, cr.Cloud, cr.Region)
		if err != nil {
			return nil, err
		}
		if len(zones) == 0 {
			return nil, fmt.Errorf("no zones in catalog for %s", cr)
		}

		lbZone := zones[0]
		blocks = append(blocks, DeploymentBlock{
			Role:           roleHAProxy,
			Cloud:          cr.Cloud,
			Region:         cr.Region,
			Zone:           lbZone.Zone,
			VpcID:          lbZone.VpcID,
			SecurityGroups: lbZone.SecurityGroups,
			Subnet:         lbZone.Subnet,
			Image:          lbZone.Image,
			ExactCount:     1,
			CPUs:           cpus,
			OSDisk:         DiskSpec{SizeGB: osDiskSizeGB, Type: osDiskType},
		})

		counts := distributeNodes(nodeCount, len(zones))
		for i, zone := range zones {
			blocks = append(blocks, DeploymentBlock{
				Role:           roleCockroachDB,
				Cloud:          cr.Cloud,
				Region:         cr.Region,
				Zone:           zone.Zone,
				VpcID:          zone.VpcID,
				SecurityGroups: zone.SecurityGroups,
				Subnet:         zone.Subnet,
				Image:          zone.Image,
				ExactCount:     counts[i],
				CPUs:           cpus,
				OSDisk:         DiskSpec{SizeGB: osDiskSizeGB, Type: osDiskType},
				Volume: &VolumeSpec{
					SizeGB:     diskGB,
					Type:       "gp3",
					IOPS:       iopsPerCPU * cpus,
					Throughput: throughputPerCPU * cpus,
				},
			})
		}
	}
	return blocks, nil
}

// distributeNodes spreads n nodes across z zones in strict round-robin:
// bucket sizes differ by at most one and sum to n.
func distributeNodes(n, z int) []int {
	counts := make([]int, z)
	for i := 0; i < n; i++ {
		counts[i%z]++
	}
	return counts
}
