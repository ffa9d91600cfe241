// Package nodegrpc is the node-agent RPC boundary: a gRPC client the
// control plane's service dispatch layer (pkg/controlplane) uses to invoke
// CreatePool/CreateReplica/CreateNexus and friends against a per-node agent,
// and to pull its current topology for registry refresh.
//
// The node-agent service has no .proto-generated stubs in this repo — the
// wire contract is the same transport.*Request/*Response structs used
// in-process, carried over grpc-go's codec extension point instead of
// hand-authored protobuf bindings. encoding.RegisterCodec plugs a JSON codec
// into the grpc runtime; calls go through conn.Invoke by method name the way
// a generated client would, without fabricating generated code.
package nodegrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec, marshaling RPC payloads as JSON
// instead of protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
