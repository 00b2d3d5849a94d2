package operations

import (
	"fmt"

	"roachplane/services/store"
)

// The precondition matrix: which cluster statuses admit each operation. A new
// operation is only admitted from a stable status, so at most one lifecycle
// operation is in flight per cluster even with multiple dispatchers.

func deleteAllowed(status string) error {
	if status == store.ClusterDeleted {
		return fmt.Errorf("cluster is already deleted")
	}
	return nil
}

func scaleAllowed(status string) error {
	if status != store.ClusterRunning {
		return fmt.Errorf("cluster must be RUNNING to scale, currently %s", status)
	}
	return nil
}

func upgradeAllowed(status string) error {
	switch status {
	case store.ClusterDeleted, store.ClusterDeleting, store.ClusterProvisioning,
		store.ClusterUpgrading, store.ClusterScaling:
		return fmt.Errorf("cluster cannot be upgraded while %s", status)
	}
	return nil
}

func restoreAllowed(status string) error {
	if status != store.ClusterRunning {
		return fmt.Errorf("cluster must be RUNNING to restore, currently %s", status)
	}
	return nil
}

func debugAllowed(status string) error {
	if status == store.ClusterDeleted {
		return fmt.Errorf("cluster is deleted")
	}
	return nil
}
