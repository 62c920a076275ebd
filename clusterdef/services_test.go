package clusterdef

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestServiceSetMgmtStrings(t *testing.T) {
	svcs := ServiceData | ServiceQuery | ServiceIndex
	assert.Equal(t, []string{"kv", "n1ql", "index"}, svcs.MgmtStrings())

	all := ServiceData | ServiceQuery | ServiceIndex | ServiceSearch |
		ServiceAnalytics | ServiceEventing | ServiceBackup
	assert.Equal(t,
		[]string{"kv", "n1ql", "index", "fts", "cbas", "eventing", "backup"},
		all.MgmtStrings())

	assert.Empty(t, ServiceSet(0).MgmtStrings())
}

func TestServiceSetOrderIsCanonical(t *testing.T) {
	// declaration order must not leak into the encoding
	a := ServiceQuery | ServiceData
	b := ServiceData | ServiceQuery
	assert.Equal(t, a.MgmtStrings(), b.MgmtStrings())
	assert.Equal(t, "data,query", a.String())
}

func TestServiceSetHas(t *testing.T) {
	svcs := ServiceData | ServiceSearch
	assert.True(t, svcs.Has(ServiceData))
	assert.True(t, svcs.Has(ServiceData|ServiceSearch))
	assert.False(t, svcs.Has(ServiceQuery))
	assert.False(t, svcs.Has(ServiceData|ServiceQuery))
	assert.True(t, ServiceSet(0).IsEmpty())
}

func TestServiceSetYamlRoundTrip(t *testing.T) {
	svcs := ServiceData | ServiceAnalytics

	data, err := yaml.Marshal(svcs)
	require.NoError(t, err)
	assert.Equal(t, "- data\n- analytics\n", string(data))

	var parsed ServiceSet
	err = yaml.Unmarshal(data, &parsed)
	require.NoError(t, err)
	assert.Equal(t, svcs, parsed)
}

func TestServiceSetYamlUnknownName(t *testing.T) {
	var parsed ServiceSet
	err := yaml.Unmarshal([]byte("- data\n- mapreduce\n"), &parsed)
	require.ErrorContains(t, err, "mapreduce")
}
