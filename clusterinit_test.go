package cbclusterboot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
	"github.com/couchbaselabs/cbclusterboot/clusterdef"
)

func newTestInitializer(t *testing.T, def *clusterdef.Cluster) *ClusterInitializer {
	return NewClusterInitializer(ClusterInitializerConfig{
		Cluster: def,
		Nodes:   newTestNodeManager(t),
		Retries: fastTestRetries(),
	}, nil)
}

func TestClusterInitializerStateUninitialized(t *testing.T) {
	var numRequests uint32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddUint32(&numRequests, 1)
		require.Equal(t, "/pools/default", r.URL.Path)
		w.WriteHeader(404)
		_, _ = w.Write([]byte(`"unknown pool"`))
	}))
	defer srv.Close()

	ci := newTestInitializer(t, testClusterFor(testNodeFor(t, srv, "node-1")))

	state, err := ci.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ClusterInitStateUninitialized, state)

	// a missing pool is a definitive answer, not a transient failure
	assert.EqualValues(t, 1, atomic.LoadUint32(&numRequests))
}

func TestClusterInitializerStateInitialized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"nodes":[{"hostname":"10.0.0.1:8091","otpNode":"ns_1@10.0.0.1","services":["kv"],"status":"healthy"}]}`))
	}))
	defer srv.Close()

	ci := newTestInitializer(t, testClusterFor(testNodeFor(t, srv, "node-1")))

	state, err := ci.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ClusterInitStateInitialized, state)
}

func TestClusterInitializerStateRetriesServerErrors(t *testing.T) {
	var numRequests uint32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddUint32(&numRequests, 1) <= 2 {
			w.WriteHeader(503)
			_, _ = w.Write([]byte("node is warming up"))
			return
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"nodes":[{"hostname":"10.0.0.1:8091","otpNode":"ns_1@10.0.0.1"}]}`))
	}))
	defer srv.Close()

	ci := newTestInitializer(t, testClusterFor(testNodeFor(t, srv, "node-1")))

	state, err := ci.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ClusterInitStateInitialized, state)
	assert.EqualValues(t, 3, atomic.LoadUint32(&numRequests))
}

func TestClusterInitializerStateExhaustsRetryAttempts(t *testing.T) {
	var numRequests uint32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddUint32(&numRequests, 1)
		w.WriteHeader(503)
		_, _ = w.Write([]byte("node is warming up"))
	}))
	defer srv.Close()

	ci := NewClusterInitializer(ClusterInitializerConfig{
		Cluster: testClusterFor(testNodeFor(t, srv, "node-1")),
		Nodes:   newTestNodeManager(t),
		Retries: &cbhttpx.RetryManagerFixed{MaxAttempts: 60, Backoff: 0},
	}, nil)

	_, err := ci.State(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 60, atomic.LoadUint32(&numRequests))
}

func TestClusterInitializerStateNoDataNode(t *testing.T) {
	node := &clusterdef.ServerNode{
		Name:     "node-1",
		Hostname: "10.0.0.1",
		Services: clusterdef.ServiceQuery,
	}

	ci := newTestInitializer(t, testClusterFor(node))

	_, err := ci.State(context.Background())
	require.ErrorIs(t, err, clusterdef.ErrNoDataNode)
}

func TestClusterInitializerInitializeCommunity(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/clusterInit", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	node := testNodeFor(t, srv, "node-1")
	node.Services = node.Services.With(clusterdef.ServiceQuery)

	err := newTestInitializer(t, testClusterFor(node)).Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Administrator", gotForm.Get("username"))
	assert.Equal(t, "password", gotForm.Get("password"))
	assert.Equal(t, "testcluster", gotForm.Get("clusterName"))
	assert.Equal(t, "SAME", gotForm.Get("port"))
	assert.Equal(t, "kv,n1ql", gotForm.Get("services"))
	assert.Equal(t, "forestdb", gotForm.Get("indexerStorageMode"))
	assert.Equal(t, "1024", gotForm.Get("memoryQuota"))
	assert.Equal(t, "1024", gotForm.Get("indexMemoryQuota"))

	// enterprise-only fields must never reach a community server
	assert.Empty(t, gotForm.Get("cbasMemoryQuota"))
	assert.Empty(t, gotForm.Get("eventingMemoryQuota"))
	assert.Empty(t, gotForm.Get("nodeEncryption"))
}

func TestClusterInitializerInitializeEnterprise(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/clusterInit", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	def := testClusterFor(testNodeFor(t, srv, "node-1"))
	def.Edition = clusterdef.EditionEnterprise
	def.Settings = &clusterdef.ClusterSettings{
		MemoryQuotaMB:          512,
		AnalyticsMemoryQuotaMB: 1200,
		NodeToNodeEncryption:   true,
	}

	err := newTestInitializer(t, def).Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "plasma", gotForm.Get("indexerStorageMode"))
	assert.Equal(t, "512", gotForm.Get("memoryQuota"))
	assert.Equal(t, "1200", gotForm.Get("cbasMemoryQuota"))
	assert.Equal(t, "1024", gotForm.Get("eventingMemoryQuota"))
	assert.Equal(t, "on", gotForm.Get("nodeEncryption"))
}

func TestClusterInitializerInitializeExplicitStorageMode(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	def := testClusterFor(testNodeFor(t, srv, "node-1"))
	def.Settings = &clusterdef.ClusterSettings{
		IndexStorageMode: clusterdef.IndexStorageModeMemoryOptimized,
	}

	err := newTestInitializer(t, def).Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "memory_optimized", gotForm.Get("indexerStorageMode"))
}
