package store

import (
	"encoding/json"
	"time"
)

// Cluster is the authoritative record of a managed database cluster.
type Cluster struct {
	ClusterID        string          `json:"cluster_id" db:"cluster_id"`
	Group            string          `json:"group" db:"group"`
	Status           string          `json:"status" db:"status"`
	Version          string          `json:"version" db:"version"`
	NodeCount        int             `json:"node_count" db:"node_count"`
	NodeCPUs         int             `json:"node_cpus" db:"node_cpus"`
	DiskSize         int             `json:"disk_size" db:"disk_size"`
	ClusterInventory json.RawMessage `json:"cluster_inventory" db:"cluster_inventory"`
	LBsInventory     json.RawMessage `json:"lbs_inventory" db:"lbs_inventory"`
	CreatedBy        string          `json:"created_by" db:"created_by"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedBy        string          `json:"updated_by" db:"updated_by"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Inventory decodes the realized node inventory.
func (c Cluster) Inventory() ([]InventoryRegion, error) {
	if len(c.ClusterInventory) == 0 {
		return nil, nil
	}
	var regions []InventoryRegion
	if err := json.Unmarshal(c.ClusterInventory, &regions); err != nil {
		return nil, err
	}
	return regions, nil
}

// LoadBalancers decodes the realized load-balancer inventory.
func (c Cluster) LoadBalancers() ([]InventoryLB, error) {
	if len(c.LBsInventory) == 0 {
		return nil, nil
	}
	var lbs []InventoryLB
	if err := json.Unmarshal(c.LBsInventory, &lbs); err != nil {
		return nil, err
	}
	return lbs, nil
}

// Job is the durable record of one lifecycle operation. Its id is shared with
// the queue message that spawned it.
type Job struct {
	JobID       int64     `json:"job_id" db:"job_id"`
	JobType     string    `json:"job_type" db:"job_type"`
	Status      string    `json:"status" db:"status"`
	Description string    `json:"description" db:"description"`
	CreatedBy   string    `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Task is one observable event captured from the automation engine, ordered
// within its job by TaskID.
type Task struct {
	JobID     int64     `json:"job_id" db:"job_id"`
	TaskID    int       `json:"task_id" db:"task_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	TaskName  string    `json:"task_name" db:"task_name"`
	TaskDesc  string    `json:"task_desc" db:"task_desc"`
}

// Message is one row of the durable work queue.
type Message struct {
	MsgID      int64     `json:"msg_id" db:"msg_id"`
	StartAfter time.Time `json:"start_after" db:"start_after"`
	MsgType    string    `json:"msg_type" db:"msg_type"`
	MsgData    string    `json:"msg_data" db:"msg_data"`
	CreatedBy  string    `json:"created_by" db:"created_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Region describes one placement zone of the region catalog.
type Region struct {
	Cloud          string `json:"cloud" db:"cloud"`
	Region         string `json:"region" db:"region"`
	Zone           string `json:"zone" db:"zone"`
	VpcID          string `json:"vpc_id" db:"vpc_id"`
	SecurityGroups string `json:"security_groups" db:"security_groups"`
	Subnet         string `json:"subnet" db:"subnet"`
	Image          string `json:"image" db:"image"`
}

// Setting is one key of the operator-tunable configuration map.
type Setting struct {
	ID           string    `json:"id" db:"id"`
	Value        string    `json:"value" db:"value"`
	DefaultValue string    `json:"default_value" db:"default_value"`
	Description  string    `json:"description" db:"description"`
	UpdatedBy    string    `json:"updated_by" db:"updated_by"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// EventLog is one audited operator action.
type EventLog struct {
	ID           int64     `json:"id" db:"id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	CreatedBy    string    `json:"created_by" db:"created_by"`
	EventType    string    `json:"event_type" db:"event_type"`
	EventDetails string    `json:"event_details" db:"event_details"`
}
