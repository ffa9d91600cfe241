// Package models defines the control plane's durable records: the
// declarative state of pools, replicas and nexuses across the fleet,
// persisted via GORM.
//
// These are distinct from pkg/nexus.Nexus and pkg/registry.Nexus: a model
// here is what the operator asked for; the registry caches what a node
// agent reports actually exists; pkg/nexus.Nexus is the live in-process
// mirror device on a data-plane node.
package models

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by the store layer, translated to the coreerr
// taxonomy at the service dispatch boundary.
var (
	ErrPoolNotFound    = errors.New("pool not found")
	ErrReplicaNotFound = errors.New("replica not found")
	ErrNexusNotFound   = errors.New("nexus not found")
	ErrDuplicatePool   = errors.New("pool already exists with different parameters")
	ErrDuplicateNexus  = errors.New("nexus already exists with different parameters")
)

// Pool is a disk pool on a node (CreatePool/DestroyPool).
type Pool struct {
	ID          string `gorm:"primaryKey"`
	Node        string `gorm:"index:idx_pool_node_name,unique"`
	Name        string `gorm:"index:idx_pool_node_name,unique"`
	Disks       string // comma-joined; pools rarely span more than a handful of disks
	ClusterSize uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Replica is a thin or thick volume carved out of a Pool (CreateReplica
// and friends).
type Replica struct {
	UUID      string `gorm:"primaryKey"`
	Node      string `gorm:"index"`
	Pool      string `gorm:"index"`
	SizeBytes uint64
	Thin      bool
	Shared    bool
	ShareURI  string
	Protocol  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Nexus is the declarative record of a mirror device: its desired
// children, published share state, and the node it is assigned to run on
// (CreateNexus and friends).
type Nexus struct {
	UUID      string `gorm:"primaryKey"`
	Node      string `gorm:"index"`
	SizeBytes uint64
	State     string
	ShareURI  string
	Protocol  string
	CreatedAt time.Time
	UpdatedAt time.Time

	Children []NexusChild `gorm:"foreignKey:NexusUUID;references:UUID"`
}

// NexusChild is one child URI belonging to a Nexus record.
type NexusChild struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	NexusUUID string `gorm:"index"`
	URI       string
	Healthy   bool
}

// AllModels lists every model for GORM's AutoMigrate.
func AllModels() []any {
	return []any{
		&Pool{},
		&Replica{},
		&Nexus{},
		&NexusChild{},
	}
}
