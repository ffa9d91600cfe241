package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for the control-plane/data-plane domain, namespaced under
// a nexus/rebuild/registry vocabulary.
const (
	AttrNode      = "nexuscore.node"
	AttrPool      = "nexuscore.pool"
	AttrReplica   = "nexuscore.replica"
	AttrNexus     = "nexuscore.nexus"
	AttrChild     = "nexuscore.child"
	AttrRebuild   = "nexuscore.rebuild_job"
	AttrOperation = "nexuscore.operation"
	AttrState     = "nexuscore.state"
)

func Node(id string) attribute.KeyValue    { return attribute.String(AttrNode, id) }
func Pool(name string) attribute.KeyValue  { return attribute.String(AttrPool, name) }
func Replica(id string) attribute.KeyValue { return attribute.String(AttrReplica, id) }
func Nexus(uuid string) attribute.KeyValue { return attribute.String(AttrNexus, uuid) }
func Child(uri string) attribute.KeyValue  { return attribute.String(AttrChild, uri) }
func Rebuild(id string) attribute.KeyValue { return attribute.String(AttrRebuild, id) }
func State(s string) attribute.KeyValue    { return attribute.String(AttrState, s) }

// StartDispatchSpan starts a span for one service-dispatch RPC: receiving
// a request, resolving a node, and invoking the node agent.
func StartDispatchSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{attribute.String(AttrOperation, operation)}, attrs...)
	return StartSpan(ctx, "dispatch."+operation, trace.WithAttributes(all...))
}

// StartRebuildSpan starts a span covering one rebuild job's Start-to-terminal
// lifecycle.
func StartRebuildSpan(ctx context.Context, sourceURI, destURI string) (context.Context, trace.Span) {
	return StartSpan(ctx, "rebuild.run", trace.WithAttributes(
		attribute.String(AttrChild+".source", sourceURI),
		attribute.String(AttrChild+".destination", destURI),
	))
}
