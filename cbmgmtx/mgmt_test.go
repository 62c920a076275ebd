package cbmgmtx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

func newTestMgmt(endpoint string) Management {
	return Management{
		Transport: http.DefaultTransport,
		UserAgent: "cbclusterboot test",
		Endpoint:  endpoint,
		Auth: &cbhttpx.BasicAuth{
			Username: "Administrator",
			Password: "password",
		},
	}
}

func TestMgmtGetClusterConfigNotInitialized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default", r.URL.Path)
		w.WriteHeader(404)
		_, _ = w.Write([]byte(`"unknown pool"`))
	}))
	defer srv.Close()

	_, err := newTestMgmt(srv.URL).GetClusterConfig(context.Background(), &GetClusterConfigOptions{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrPoolNotInitialized)

	var serverErr ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, 404, serverErr.StatusCode)
	assert.Contains(t, string(serverErr.Body), "unknown pool")
	assert.Equal(t, 404, serverErr.HttpStatusCode())
}

func TestMgmtGetClusterConfigSubstitutesHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"name":"default","nodes":[{"hostname":"$HOST:8091","status":"healthy","otpNode":"ns_1@$HOST","services":["kv"]}]}`))
	}))
	defer srv.Close()

	config, err := newTestMgmt(srv.URL).GetClusterConfig(context.Background(), &GetClusterConfigOptions{})
	require.NoError(t, err)
	require.Len(t, config.Nodes, 1)

	srvUrl, err := url.Parse(srv.URL)
	require.NoError(t, err)
	expectedHost := srvUrl.Hostname()

	assert.Equal(t, expectedHost+":8091", config.Nodes[0].Hostname)
	assert.Equal(t, "ns_1@"+expectedHost, config.Nodes[0].OTPNode)
}

func TestMgmtGetClusterInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"implementationVersion":"7.6.2-3505-enterprise","isEnterprise":true,"pools":[{"name":"default"}]}`))
	}))
	defer srv.Close()

	info, err := newTestMgmt(srv.URL).GetClusterInfo(context.Background(), &GetClusterInfoOptions{})
	require.NoError(t, err)
	assert.True(t, info.IsEnterprise)
	assert.True(t, info.IsInitialized())
	assert.Equal(t, "7.6.2-3505-enterprise", info.ImplementationVersion)
}

func TestMgmtGetClusterInfoUninitialized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"implementationVersion":"7.6.2-3505-community","isEnterprise":false,"pools":[]}`))
	}))
	defer srv.Close()

	info, err := newTestMgmt(srv.URL).GetClusterInfo(context.Background(), &GetClusterInfoOptions{})
	require.NoError(t, err)
	assert.False(t, info.IsEnterprise)
	assert.False(t, info.IsInitialized())
}

func TestMgmtClusterInitEncodesForm(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/clusterInit", r.URL.Path)
		require.Equal(t, "POST", r.Method)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := newTestMgmt(srv.URL).ClusterInit(context.Background(), &ClusterInitOptions{
		Username:           "Administrator",
		Password:           "password",
		ClusterName:        "testcluster",
		MemoryQuotaMB:      1024,
		IndexMemoryQuotaMB: 512,
		IndexerStorageMode: "plasma",
		Services:           []string{"kv", "n1ql", "index"},
		Port:               "SAME",
	})
	require.NoError(t, err)

	assert.Equal(t, "Administrator", gotForm.Get("username"))
	assert.Equal(t, "password", gotForm.Get("password"))
	assert.Equal(t, "testcluster", gotForm.Get("clusterName"))
	assert.Equal(t, "1024", gotForm.Get("memoryQuota"))
	assert.Equal(t, "512", gotForm.Get("indexMemoryQuota"))
	assert.Equal(t, "plasma", gotForm.Get("indexerStorageMode"))
	assert.Equal(t, "kv,n1ql,index", gotForm.Get("services"))
	assert.Equal(t, "SAME", gotForm.Get("port"))

	// enterprise only fields must not be sent unless explicitly set
	assert.False(t, gotForm.Has("cbasMemoryQuota"))
	assert.False(t, gotForm.Has("eventingMemoryQuota"))
	assert.False(t, gotForm.Has("nodeEncryption"))
}

func TestMgmtClusterInitAlreadyInitialized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`["Cluster is already provisioned, this API is not supported"]`))
	}))
	defer srv.Close()

	err := newTestMgmt(srv.URL).ClusterInit(context.Background(), &ClusterInitOptions{
		Username: "Administrator",
		Password: "password",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestMgmtAddNode(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/controller/addNode", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"otpNode":"ns_1@192.168.1.2"}`))
	}))
	defer srv.Close()

	resp, err := newTestMgmt(srv.URL).AddNode(context.Background(), &AddNodeOptions{
		Hostname: "192.168.1.2",
		Username: "Administrator",
		Password: "password",
		Services: []string{"kv", "fts"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ns_1@192.168.1.2", resp.OTPNode)

	assert.Equal(t, "192.168.1.2", gotForm.Get("hostname"))
	assert.Equal(t, "Administrator", gotForm.Get("user"))
	assert.Equal(t, "password", gotForm.Get("password"))
	assert.Equal(t, "kv,fts", gotForm.Get("services"))
}

func TestMgmtAddNodeAlreadyJoined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`["Prepare join failed. Node is already part of cluster."]`))
	}))
	defer srv.Close()

	_, err := newTestMgmt(srv.URL).AddNode(context.Background(), &AddNodeOptions{
		Hostname: "192.168.1.2",
		Username: "Administrator",
		Password: "password",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNodeAlreadyJoined)
}

func TestMgmtRebalance(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/controller/rebalance", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := newTestMgmt(srv.URL).Rebalance(context.Background(), &RebalanceOptions{
		KnownNodes: []string{"ns_1@192.168.1.1", "ns_1@192.168.1.2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ns_1@192.168.1.1,ns_1@192.168.1.2", gotForm.Get("knownNodes"))
}

func TestMgmtRebalanceProgress(t *testing.T) {
	responses := []string{
		`{"status":"running","ns_1@192.168.1.1":{"progress":0.5}}`,
		`{"status":"none"}`,
	}
	var reqNum int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default/rebalanceProgress", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(responses[reqNum]))
		reqNum++
	}))
	defer srv.Close()

	mgmt := newTestMgmt(srv.URL)

	progress, err := mgmt.GetRebalanceProgress(context.Background(), &GetRebalanceProgressOptions{})
	require.NoError(t, err)
	assert.True(t, progress.IsRunning())

	progress, err = mgmt.GetRebalanceProgress(context.Background(), &GetRebalanceProgressOptions{})
	require.NoError(t, err)
	assert.False(t, progress.IsRunning())
}

func TestMgmtListNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/nodes", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"nodes":[` +
			`{"hostname":"192.168.1.1:8091","otpNode":"ns_1@192.168.1.1","status":"healthy","clusterMembership":"active","services":["kv","n1ql"]},` +
			`{"hostname":"192.168.1.2:8091","otpNode":"ns_1@192.168.1.2","status":"warmup","clusterMembership":"active","services":["kv"]}]}`))
	}))
	defer srv.Close()

	nodes, err := newTestMgmt(srv.URL).ListNodes(context.Background(), &ListNodesOptions{})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "ns_1@192.168.1.1", nodes[0].OTPNode)
	assert.Equal(t, []string{"kv", "n1ql"}, nodes[0].Services)
	assert.Equal(t, "warmup", nodes[1].Status)
}

func TestMgmtSetupAlternateAddresses(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/node/controller/setupAlternateAddresses/external", r.URL.Path)
		require.Equal(t, "PUT", r.Method)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	err := newTestMgmt(srv.URL).SetupAlternateAddressesExternal(context.Background(), &AlternateAddressesExternalOptions{
		Hostname:    "cb0.example.com",
		MgmtPort:    30091,
		KvPort:      31210,
		MgmtSSLPort: 30092,
	})
	require.NoError(t, err)

	assert.Equal(t, "cb0.example.com", gotForm.Get("hostname"))
	assert.Equal(t, "30091", gotForm.Get("mgmt"))
	assert.Equal(t, "31210", gotForm.Get("kv"))
	assert.Equal(t, "30092", gotForm.Get("mgmtSSL"))
	assert.False(t, gotForm.Has("n1ql"))
}

func TestMgmtCertOpsAreUnauthenticated(t *testing.T) {
	var sawAuth []bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = append(sawAuth, r.Header.Get("Authorization") != "")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	mgmt := Management{
		Transport: http.DefaultTransport,
		UserAgent: "cbclusterboot test",
		Endpoint:  srv.URL,
	}

	err := mgmt.LoadTrustedCAs(context.Background(), &LoadTrustedCAsOptions{})
	require.NoError(t, err)

	err = mgmt.ReloadCertificate(context.Background(), &ReloadCertificateOptions{})
	require.NoError(t, err)

	require.Equal(t, []bool{false, false}, sawAuth)
}

func TestMgmtGetTrustedCAs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default/trustedCAs", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`[{"id":0,"subject":"CN=Couchbase Server","type":"generated","pem":"-----BEGIN CERTIFICATE-----\n-----END CERTIFICATE-----\n"}]`))
	}))
	defer srv.Close()

	cas, err := newTestMgmt(srv.URL).GetTrustedCAs(context.Background(), &GetTrustedCAsOptions{})
	require.NoError(t, err)
	require.Len(t, cas, 1)
	assert.Equal(t, "CN=Couchbase Server", cas[0].Subject)
	assert.True(t, strings.HasPrefix(cas[0].Pem, "-----BEGIN CERTIFICATE-----"))
}

func TestMgmtAccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		_, _ = w.Write([]byte(``))
	}))
	defer srv.Close()

	_, err := newTestMgmt(srv.URL).GetClusterConfig(context.Background(), &GetClusterConfigOptions{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAccessDenied)
}
