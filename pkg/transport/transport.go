// Package transport defines the wire-shape request/response types of the
// control plane's external interface: the node-agent RPC surface
// consumed by pkg/controlplane's service dispatch layer. Field validation
// uses struct tags evaluated by go-playground/validator.
package transport

import "github.com/nexusfleet/nexuscore/pkg/ids"

// CreatePoolRequest is the request shape for CreatePool.
type CreatePoolRequest struct {
	Node        ids.NodeId `validate:"required"`
	Name        string     `validate:"required"`
	Disks       []string   `validate:"required,min=1,dive,required"`
	UUID        string     `validate:"omitempty,uuid"`
	ClusterSize uint64     `validate:"omitempty,min=1"`
}

// PoolResponse is returned by CreatePool.
type PoolResponse struct {
	UUID  string
	Name  string
	Node  ids.NodeId
	Disks []string
}

// DestroyPoolRequest is the request shape for DestroyPool.
type DestroyPoolRequest struct {
	Node ids.NodeId `validate:"required"`
	Name string     `validate:"required"`
	UUID string     `validate:"omitempty,uuid"`
}

// CreateReplicaRequest is the request shape for CreateReplica.
type CreateReplicaRequest struct {
	Node  ids.NodeId `validate:"required"`
	Pool  string     `validate:"required"`
	UUID  string     `validate:"required,uuid"`
	Size  uint64     `validate:"required,min=1"`
	Thin  bool
	Share bool
}

// ReplicaResponse is returned by CreateReplica.
type ReplicaResponse struct {
	UUID     string
	Pool     string
	Node     ids.NodeId
	SizeB    uint64
	ShareURI string
}

// ShareReplicaRequest is the request shape for ShareReplica.
type ShareReplicaRequest struct {
	Node         ids.NodeId `validate:"required"`
	Pool         string     `validate:"required"`
	UUID         string     `validate:"required,uuid"`
	Protocol     string     `validate:"required,oneof=nvmf"`
	AllowedHosts []string
}

// UnshareReplicaRequest is the request shape for UnshareReplica.
type UnshareReplicaRequest struct {
	Node ids.NodeId `validate:"required"`
	Pool string     `validate:"required"`
	UUID string     `validate:"required,uuid"`
}

// DestroyReplicaRequest is the request shape for DestroyReplica.
type DestroyReplicaRequest struct {
	Node ids.NodeId `validate:"required"`
	Pool string     `validate:"required"`
	UUID string     `validate:"required,uuid"`
}

// CreateNexusRequest is the request shape for CreateNexus.
type CreateNexusRequest struct {
	UUID     string   `validate:"required,uuid"`
	Size     uint64   `validate:"required,min=1"`
	Children []string `validate:"required,min=1,dive,required"`
}

// NexusResponse is returned by CreateNexus.
type NexusResponse struct {
	UUID     string
	Size     uint64
	State    string
	Children []ChildResponse
}

// ChildResponse describes one child in a NexusResponse or AddChildNexus
// response.
type ChildResponse struct {
	URI   string
	State string
	Fault string
}

// DestroyNexusRequest is the request shape for DestroyNexus.
type DestroyNexusRequest struct {
	UUID string `validate:"required,uuid"`
}

// AddChildNexusRequest is the request shape for AddChildNexus.
type AddChildNexusRequest struct {
	UUID      string `validate:"required,uuid"`
	URI       string `validate:"required"`
	NoRebuild bool
}

// RemoveChildNexusRequest is the request shape for RemoveChildNexus.
type RemoveChildNexusRequest struct {
	UUID string `validate:"required,uuid"`
	URI  string `validate:"required"`
}

// PublishNexusRequest is the request shape for PublishNexus.
type PublishNexusRequest struct {
	UUID     string `validate:"required,uuid"`
	Key      []byte `validate:"omitempty,len=16"`
	Protocol string `validate:"required,oneof=nvmf"`
}

// UnpublishNexusRequest is the request shape for UnpublishNexus.
type UnpublishNexusRequest struct {
	UUID string `validate:"required,uuid"`
}

// CreateSnapshotRebuildRequest is the request shape for
// CreateSnapshotRebuild, supplementing the base rebuild job contract with
// rebuilds sourced from a snapshot-backed replica instead of a peer child.
type CreateSnapshotRebuildRequest struct {
	UUID        string `validate:"required,uuid"`
	SnapshotURI string `validate:"required"`
	ReplicaURI  string `validate:"required"`
	Resume      bool
	ErrorPolicy string `validate:"omitempty,oneof=fail retry"`
}

// RebuildHandleResponse is returned by CreateSnapshotRebuild.
type RebuildHandleResponse struct {
	UUID  string
	State string
}

// DestroySnapshotRebuildRequest is the request shape for
// DestroySnapshotRebuild.
type DestroySnapshotRebuildRequest struct {
	UUID string `validate:"required,uuid"`
}

// ListSnapshotRebuildRequest is the request shape for ListSnapshotRebuild;
// UUID is optional, listing every rebuild when empty.
type ListSnapshotRebuildRequest struct {
	UUID string `validate:"omitempty,uuid"`
}

// RebuildStatusResponse is one entry of ListSnapshotRebuild's response.
type RebuildStatusResponse struct {
	UUID              string
	State             string
	BlocksTotal       uint64
	BlocksTransferred uint64
}
