package cbclusterboot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchbaselabs/cbclusterboot/cbmgmtx"
	"github.com/couchbaselabs/cbclusterboot/clusterdef"
)

type countingCredentials struct {
	numCalls uint32
}

func (c *countingCredentials) Credentials(ctx context.Context) (string, string, error) {
	atomic.AddUint32(&c.numCalls, 1)
	return "Administrator", "password", nil
}

func TestNodeManagerRequiresCredentials(t *testing.T) {
	_, err := NewNodeManager(NodeManagerConfig{}, nil)
	require.Error(t, err)
}

func TestNodeManagerRejectsBadCaCertificate(t *testing.T) {
	_, err := NewNodeManager(NodeManagerConfig{
		Credentials: &StaticCredentials{
			Username: "Administrator",
			Password: "password",
		},
		Certificate: &clusterdef.CertificateAuthority{
			CertPEM: "not a certificate",
		},
	}, nil)
	require.Error(t, err)
}

func TestNodeManagerNodeHostPort(t *testing.T) {
	mgr := newTestNodeManager(t)

	node := &clusterdef.ServerNode{Hostname: "10.1.2.3"}
	assert.Equal(t, "10.1.2.3:8091", mgr.NodeHostPort(node))

	// a hostname already carrying a port is used verbatim
	node = &clusterdef.ServerNode{Hostname: "10.1.2.3:9000"}
	assert.Equal(t, "10.1.2.3:9000", mgr.NodeHostPort(node))
}

func TestNodeManagerNodeHostPortCustomPort(t *testing.T) {
	mgr, err := NewNodeManager(NodeManagerConfig{
		Credentials: &StaticCredentials{
			Username: "Administrator",
			Password: "password",
		},
		Settings: &clusterdef.ClusterSettings{
			MgmtPort: 9000,
		},
	}, nil)
	require.NoError(t, err)

	node := &clusterdef.ServerNode{Hostname: "10.1.2.3"}
	assert.Equal(t, "10.1.2.3:9000", mgr.NodeHostPort(node))
}

func TestNodeManagerResolvesCredentialsOnce(t *testing.T) {
	creds := &countingCredentials{}
	mgr, err := NewNodeManager(NodeManagerConfig{
		Credentials: creds,
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		user, pass, err := mgr.Credentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Administrator", user)
		assert.Equal(t, "password", pass)
	}

	node := &clusterdef.ServerNode{Name: "node-1", Hostname: "10.0.0.1"}
	_, err = mgr.MgmtForNode(ctx, node)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadUint32(&creds.numCalls))
}

func TestNodeManagerMgmtSendsBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "Administrator", user)
		assert.Equal(t, "password", pass)

		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"implementationVersion":"7.6.2-3505-enterprise","isEnterprise":true,"pools":[{"name":"default"}]}`))
	}))
	defer srv.Close()

	mgr := newTestNodeManager(t)
	assert.False(t, mgr.UsesTLS())

	mgmt, err := mgr.MgmtForNode(context.Background(), testNodeFor(t, srv, "node-1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mgmt.Endpoint, "http://"))

	info, err := mgmt.GetClusterInfo(context.Background(), &cbmgmtx.GetClusterInfoOptions{})
	require.NoError(t, err)
	assert.True(t, info.IsEnterprise)
}

func TestNodeManagerInsecureMgmtOmitsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(200)
	}))
	defer srv.Close()

	mgmt := newTestNodeManager(t).InsecureMgmtForNode(testNodeFor(t, srv, "node-1"))

	err := mgmt.LoadTrustedCAs(context.Background(), &cbmgmtx.LoadTrustedCAsOptions{})
	require.NoError(t, err)
}

func TestNodeManagerTLSEndpoints(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, r.TLS)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"implementationVersion":"7.6.2-3505-enterprise","isEnterprise":true,"pools":[{"name":"default"}]}`))
	}))
	defer srv.Close()

	mgr, err := NewNodeManager(NodeManagerConfig{
		Credentials: &StaticCredentials{
			Username: "Administrator",
			Password: "password",
		},
		Certificate: &clusterdef.CertificateAuthority{
			CertPEM: testCACertPEM(t, srv.Certificate()),
		},
	}, nil)
	require.NoError(t, err)
	assert.True(t, mgr.UsesTLS())

	node := testNodeFor(t, srv, "node-1")

	mgmt, err := mgr.MgmtForNode(context.Background(), node)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mgmt.Endpoint, "https://"))

	_, err = mgmt.GetClusterInfo(context.Background(), &cbmgmtx.GetClusterInfoOptions{})
	require.NoError(t, err)

	// bootstrap and unauthenticated clients stay on the plaintext endpoint
	// even when the manager is configured for TLS
	boot, err := mgr.BootstrapMgmtForNode(context.Background(), node)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(boot.Endpoint, "http://"))
	assert.True(t, strings.HasPrefix(mgr.InsecureMgmtForNode(node).Endpoint, "http://"))
}
