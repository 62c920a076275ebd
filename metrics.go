package cbclusterboot

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/couchbaselabs/cbclusterboot",
		metric.WithInstrumentationVersion(buildVersion))
)

var (
	// publishedResourceStates tracks the number of resource state snapshots
	// published through the state stream.
	publishedResourceStates, _ = meter.Int64Counter("cbclusterboot.published_resource_states")

	// joinedNodes tracks the number of nodes added to a cluster by the join
	// coordinator, not counting joins that were skipped as already present.
	joinedNodes, _ = meter.Int64Counter("cbclusterboot.joined_nodes")

	// completedRebalances tracks the number of rebalances driven to
	// completion.
	completedRebalances, _ = meter.Int64Counter("cbclusterboot.completed_rebalances")

	// provisionedBuckets tracks the number of buckets brought to a healthy
	// state, counting both fresh creations and already-present buckets.
	provisionedBuckets, _ = meter.Int64Counter("cbclusterboot.provisioned_buckets")

	// recoveredPanics tracks panics recovered from supervised tasks.
	recoveredPanics, _ = meter.Int64Counter("cbclusterboot.recovered_panics")
)
