package testutils

import (
	"testing"

	"golang.org/x/exp/slices"
)

type TestFeature string

const (
	// TestFeatureMultiNode covers tests which need at least two nodes in
	// the target cluster, such as join and rebalance flows.
	TestFeatureMultiNode TestFeature = "multi-node"

	// TestFeatureSampleBuckets covers tests which install sample datasets,
	// these can take minutes on smaller test machines.
	TestFeatureSampleBuckets TestFeature = "sample-buckets"

	// TestFeatureAltAddrs covers tests which reconfigure the external
	// address mapping of nodes in the target cluster.
	TestFeatureAltAddrs TestFeature = "alt-addrs"
)

var AllTestFeatures = []TestFeature{
	TestFeatureMultiNode,
	TestFeatureSampleBuckets,
	TestFeatureAltAddrs,
}

func SupportsFeature(feat TestFeature) bool {
	return slices.Contains(TestOpts.SupportedFeatures, feat)
}

func SkipIfUnsupportedFeature(t *testing.T, feat TestFeature) {
	if !SupportsFeature(feat) {
		t.Skipf("skipping unsupported feature (%s)", feat)
	}
}
