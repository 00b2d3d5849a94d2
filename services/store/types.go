package store

// Cluster lifecycle statuses. DELETED is terminal except via an explicit
// recreate request.
const (
	ClusterProvisioning  = "PROVISIONING"
	ClusterRunning       = "RUNNING"
	ClusterUnhealthy     = "UNHEALTHY"
	ClusterFailed        = "FAILED"
	ClusterScaling       = "SCALING"
	ClusterScaleFailed   = "SCALE_FAILED"
	ClusterRestoring     = "RESTORING"
	ClusterRestoreFailed = "RESTORE_FAILED"
	ClusterDeleting      = "DELETING"
	ClusterDeleted       = "DELETED"
	ClusterDeleteFailed  = "DELETE_FAILED"
	ClusterUpgrading     = "UPGRADING"
	ClusterUpgradeFailed = "UPGRADE_FAILED"
)

// Job statuses. COMPLETED and FAILED are terminal.
const (
	JobQueued    = "QUEUED"
	JobScheduled = "SCHEDULED"
	JobRunning   = "RUNNING"
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
)

// Message kinds carried on the queue. Each maps to one operation handler.
const (
	MsgCreateCluster       = "CREATE_CLUSTER"
	MsgRecreateCluster     = "RECREATE_CLUSTER"
	MsgDeleteCluster       = "DELETE_CLUSTER"
	MsgScaleCluster        = "SCALE_CLUSTER"
	MsgUpgradeCluster      = "UPGRADE_CLUSTER"
	MsgRestoreCluster      = "RESTORE_CLUSTER"
	MsgDebugCluster        = "DEBUG_CLUSTER"
	MsgHealthcheckClusters = "HEALTHCHECK_CLUSTERS"
	MsgFailZombieJobs      = "FAIL_ZOMBIE_JOBS"
)

// Scale sub-operation playbook names. The lifecycle playbooks share their
// message kind's name; scale is composite and fans out into these.
const (
	PlaybookScaleDiskSize   = "SCALE_DISK_SIZE"
	PlaybookScaleNodeCPUs   = "SCALE_NODE_CPUS"
	PlaybookScaleClusterOut = "SCALE_CLUSTER_OUT"
	PlaybookScaleClusterIn  = "SCALE_CLUSTER_IN"
)

// InventoryRegion is one realized (cloud, region) slice of a cluster with the
// addresses of its database nodes.
type InventoryRegion struct {
	Cloud  string   `json:"cloud"`
	Region string   `json:"region"`
	Nodes  []string `json:"nodes"`
}

// InventoryLB is one load balancer realized for a (cloud, region).
type InventoryLB struct {
	Cloud      string `json:"cloud"`
	Region     string `json:"region"`
	DNSAddress string `json:"dns_address"`
}
