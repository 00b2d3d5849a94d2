package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Cluster struct {
	ClusterID        string            `gorm:"type:text;primaryKey"`
	Group            string            `gorm:"column:group;type:text;not null;index"`
	Status           string            `gorm:"type:text;not null"`
	Version          string            `gorm:"type:text;not null"`
	NodeCount        int               `gorm:"type:int;not null"`
	NodeCPUs         int               `gorm:"column:node_cpus;type:int;not null"`
	DiskSize         int               `gorm:"type:int;not null"`
	ClusterInventory datatypes.JSON    `gorm:"type:jsonb"`
	LBsInventory     datatypes.JSON    `gorm:"column:lbs_inventory;type:jsonb"`
	CreatedBy        string            `gorm:"type:text;not null"`
	CreatedAt        time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedBy        string            `gorm:"type:text"`
	UpdatedAt        time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Cluster) TableName() string { return "clusters" }

type Job struct {
	JobID       int64     `gorm:"type:bigserial;primaryKey"`
	JobType     string    `gorm:"type:text;not null"`
	Status      string    `gorm:"type:text;not null;index"`
	Description string    `gorm:"type:text"`
	CreatedBy   string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (Job) TableName() string { return "jobs" }

type MapClusterJob struct {
	ClusterID string `gorm:"type:text;primaryKey"`
	JobID     int64  `gorm:"type:bigint;primaryKey;index"`
}

func (MapClusterJob) TableName() string { return "map_clusters_jobs" }

type Task struct {
	JobID     int64     `gorm:"type:bigint;primaryKey"`
	TaskID    int       `gorm:"type:int;primaryKey"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now()"`
	TaskName  string    `gorm:"type:text;not null"`
	TaskDesc  string    `gorm:"type:text"`
}

func (Task) TableName() string { return "tasks" }

type Message struct {
	MsgID      int64     `gorm:"type:bigint;primaryKey"`
	StartAfter time.Time `gorm:"type:timestamptz;not null;default:now();index"`
	MsgType    string    `gorm:"type:text;not null"`
	MsgData    string    `gorm:"type:text"`
	CreatedBy  string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Message) TableName() string { return "mq" }

type EventLog struct {
	ID           int64     `gorm:"type:bigserial;primaryKey"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	CreatedBy    string    `gorm:"type:text;not null"`
	EventType    string    `gorm:"type:text;not null"`
	EventDetails string    `gorm:"type:text"`
}

func (EventLog) TableName() string { return "event_log" }

type Region struct {
	Cloud          string            `gorm:"type:text;primaryKey"`
	Region         string            `gorm:"type:text;primaryKey"`
	Zone           string            `gorm:"type:text;primaryKey"`
	VpcID          string            `gorm:"column:vpc_id;type:text"`
	SecurityGroups string            `gorm:"type:text"`
	Subnet         string            `gorm:"type:text"`
	Image          string            `gorm:"type:text"`
	Extras         datatypes.JSONMap `gorm:"type:jsonb"`
}

func (Region) TableName() string { return "regions" }

type Version struct {
	Version string `gorm:"type:text;primaryKey"`
}

func (Version) TableName() string { return "versions" }

type CPUsPerNode struct {
	CPUs int `gorm:"column:cpus;type:int;primaryKey"`
}

func (CPUsPerNode) TableName() string { return "cpus_per_node" }

type NodesPerRegion struct {
	Nodes int `gorm:"type:int;primaryKey"`
}

func (NodesPerRegion) TableName() string { return "nodes_per_region" }

type DiskSize struct {
	SizeGB int `gorm:"column:size_gb;type:int;primaryKey"`
}

func (DiskSize) TableName() string { return "disk_sizes" }

type Setting struct {
	ID           string    `gorm:"type:text;primaryKey"`
	Value        string    `gorm:"type:text"`
	DefaultValue string    `gorm:"type:text;not null"`
	Description  string    `gorm:"type:text"`
	UpdatedBy    string    `gorm:"type:text"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }

type Secret struct {
	ID   string `gorm:"type:text;primaryKey"`
	Data []byte `gorm:"type:bytea;not null"`
}

func (Secret) TableName() string { return "secrets" }

type RoleToGroupsMapping struct {
	Role   string `gorm:"type:text;primaryKey"`
	Groups string `gorm:"type:text;not null"`
}

func (RoleToGroupsMapping) TableName() string { return "role_to_groups_mappings" }

var defaultSettings = []Setting{
	{ID: "playbooks_url", DefaultValue: "https://playbooks.roachplane.local/", Description: "Base URL of the playbook catalog"},
	{ID: "playbooks_url_cache_expiry", DefaultValue: "300", Description: "Seconds before a cached playbook is re-fetched"},
	{ID: "licence_org", DefaultValue: "", Description: "CockroachDB cluster organization"},
	{ID: "licence_key", DefaultValue: "", Description: "CockroachDB enterprise license"},
	{ID: "default_username", DefaultValue: "roach", Description: "Default database user created on new clusters"},
	{ID: "default_password", DefaultValue: "", Description: "Password for the default database user"},
	{ID: "cloud_storage_url", DefaultValue: "", Description: "Bucket URL for backups and job forensics"},
	{ID: "prom_url", DefaultValue: "", Description: "Prometheus endpoint scraped by cluster dashboards"},
	{ID: "heartbeat_interval", DefaultValue: "60", Description: "Seconds between job heartbeats while a playbook runs"},
	{ID: "zombie_threshold", DefaultValue: "120", Description: "Seconds without a heartbeat before a job is reaped"},
}

var defaultCatalogs = struct {
	Versions []string
	CPUs     []int
	Nodes    []int
	Disks    []int
}{
	Versions: []string{"v23.2.4", "v24.1.0", "v24.2.3"},
	CPUs:     []int{2, 4, 8, 16},
	Nodes:    []int{3, 6, 9, 12},
	Disks:    []int{100, 250, 500, 1000, 2000},
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	gormDB = gormDB.WithContext(ctx)

	if err := gormDB.AutoMigrate(
		&Cluster{},
		&Job{},
		&MapClusterJob{},
		&Task{},
		&Message{},
		&EventLog{},
		&Region{},
		&Version{},
		&CPUsPerNode{},
		&NodesPerRegion{},
		&DiskSize{},
		&Setting{},
		&Secret{},
		&RoleToGroupsMapping{},
	); err != nil {
		return err
	}

	for _, s := range defaultSettings {
		if err := gormDB.Create(&s).Error; err != nil {
			return err
		}
	}
	for _, v := range defaultCatalogs.Versions {
		if err := gormDB.Create(&Version{Version: v}).Error; err != nil {
			return err
		}
	}
	for _, c := range defaultCatalogs.CPUs {
		if err := gormDB.Create(&CPUsPerNode{CPUs: c}).Error; err != nil {
			return err
		}
	}
	for _, n := range defaultCatalogs.Nodes {
		if err := gormDB.Create(&NodesPerRegion{Nodes: n}).Error; err != nil {
			return err
		}
	}
	for _, d := range defaultCatalogs.Disks {
		if err := gormDB.Create(&DiskSize{SizeGB: d}).Error; err != nil {
			return err
		}
	}

	return gormDB.Create(&RoleToGroupsMapping{Role: "admin", Groups: "roachplane-admins"}).Error
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&RoleToGroupsMapping{},
		&Secret{},
		&Setting{},
		&DiskSize{},
		&NodesPerRegion{},
		&CPUsPerNode{},
		&Version{},
		&Region{},
		&EventLog{},
		&Message{},
		&Task{},
		&MapClusterJob{},
		&Job{},
		&Cluster{},
	)
}
