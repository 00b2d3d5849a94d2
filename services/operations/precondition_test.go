package operations

import (
	"testing"

	"roachplane/services/store"
)

func TestPreconditionMatrix(t *testing.T) {
	tests := []struct {
		name    string
		check   func(string) error
		status  string
		allowed bool
	}{
		{name: "delete running", check: deleteAllowed, status: store.ClusterRunning, allowed: true},
		{name: "delete failed", check: deleteAllowed, status: store.ClusterFailed, allowed: true},
		{name: "delete deleted", check: deleteAllowed, status: store.ClusterDeleted, allowed: false},

		{name: "scale running", check: scaleAllowed, status: store.ClusterRunning, allowed: true},
		{name: "scale unhealthy", check: scaleAllowed, status: store.ClusterUnhealthy, allowed: false},
		{name: "scale scaling", check: scaleAllowed, status: store.ClusterScaling, allowed: false},
		{name: "scale deleted", check: scaleAllowed, status: store.ClusterDeleted, allowed: false},

		{name: "upgrade running", check: upgradeAllowed, status: store.ClusterRunning, allowed: true},
		{name: "upgrade unhealthy", check: upgradeAllowed, status: store.ClusterUnhealthy, allowed: true},
		{name: "upgrade failed", check: upgradeAllowed, status: store.ClusterUpgradeFailed, allowed: true},
		{name: "upgrade deleted", check: upgradeAllowed, status: store.ClusterDeleted, allowed: false},
		{name: "upgrade deleting", check: upgradeAllowed, status: store.ClusterDeleting, allowed: false},
		{name: "upgrade provisioning", check: upgradeAllowed, status: store.ClusterProvisioning, allowed: false},
		{name: "upgrade upgrading", check: upgradeAllowed, status: store.ClusterUpgrading, allowed: false},
		{name: "upgrade scaling", check: upgradeAllowed, status: store.ClusterScaling, allowed: false},

		{name: "restore running", check: restoreAllowed, status: store.ClusterRunning, allowed: true},
		{name: "restore restoring", check: restoreAllowed, status: store.ClusterRestoring, allowed: false},
		{name: "restore unhealthy", check: restoreAllowed, status: store.ClusterUnhealthy, allowed: false},

		{name: "debug unhealthy", check: debugAllowed, status: store.ClusterUnhealthy, allowed: true},
		{name: "debug deleted", check: debugAllowed, status: store.ClusterDeleted, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(tt.status)
			if tt.allowed && err != nil {
				t.Fatalf("status %s unexpectedly rejected: %v", tt.status, err)
			}
			if !tt.allowed && err == nil {
				t.Fatalf("status %s unexpectedly allowed", tt.status)
			}
		})
	}
}
