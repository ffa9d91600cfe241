// Package api wires the control plane's node-agent client to the service
// dispatch layer: a GRPCDialer satisfying controlplane.NodeDialer, the
// concrete counterpart to the NodeAgent/NodeDialer seam pkg/controlplane
// defines for testability.
package api

import (
	"github.com/nexusfleet/nexuscore/pkg/controlplane"
	"github.com/nexusfleet/nexuscore/pkg/transport/nodegrpc"
)

// GRPCDialer dials node agents over gRPC using the JSON codec registered by
// pkg/transport/nodegrpc.
type GRPCDialer struct{}

// Dial opens a connection to endpoint and returns it as a
// controlplane.NodeAgent; nodegrpc.Client satisfies that interface
// structurally, with no explicit assertion needed.
func (GRPCDialer) Dial(endpoint string) (controlplane.NodeAgent, error) {
	return nodegrpc.Dial(endpoint)
}
