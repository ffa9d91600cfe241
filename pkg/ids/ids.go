// Package ids defines the opaque identifier types used across the control
// plane and data plane: NodeId, PoolId, ReplicaId, NexusId and ChildUri.
//
// Identifiers carry equality/hash semantics only. UUID-backed identifiers
// are 128-bit values serialized as hyphenated strings using
// github.com/google/uuid.
package ids

import (
	"github.com/google/uuid"
)

// NodeId identifies a storage node in the fleet.
type NodeId string

// PoolId identifies a pool on a node.
type PoolId string

// ReplicaId identifies a replica within a pool.
type ReplicaId string

// NexusId identifies a nexus. Nexus identifiers are UUIDs.
type NexusId string

// ChildUri identifies a nexus child by its block device URI. It is the
// child's immutable identity for the lifetime of the nexus.
type ChildUri string

// NewNexusId generates a fresh random NexusId.
func NewNexusId() NexusId {
	return NexusId(uuid.NewString())
}

// ParseNexusId validates that s is a well-formed UUID and returns it as a
// NexusId.
func ParseNexusId(s string) (NexusId, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return NexusId(s), nil
}

// String implementations let the ids print naturally in logs and errors.
func (n NodeId) String() string    { return string(n) }
func (p PoolId) String() string    { return string(p) }
func (r ReplicaId) String() string { return string(r) }
func (n NexusId) String() string   { return string(n) }
func (c ChildUri) String() string  { return string(c) }
