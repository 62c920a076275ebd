package cbclusterboot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchbaselabs/cbclusterboot/clusterdef"
)

func TestCertBootstrapperNoCertificateIsNoop(t *testing.T) {
	var numRequests uint32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddUint32(&numRequests, 1)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	cb := NewCertBootstrapper(CertBootstrapperConfig{
		Nodes:   newTestNodeManager(t),
		Retries: fastTestRetries(),
	}, nil)

	err := cb.LoadAndTrust(context.Background(), testNodeFor(t, srv, "node-1"))
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadUint32(&numRequests))
}

func TestCertBootstrapperLoadsThenReloads(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)

		// both calls run before the node knows any credentials
		assert.Empty(t, r.Header.Get("Authorization"))

		paths = append(paths, r.URL.Path)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	cb := NewCertBootstrapper(CertBootstrapperConfig{
		Certificate: &clusterdef.CertificateAuthority{
			CertPEM: "-----BEGIN CERTIFICATE-----",
		},
		Nodes:   newTestNodeManager(t),
		Retries: fastTestRetries(),
	}, nil)

	err := cb.LoadAndTrust(context.Background(), testNodeFor(t, srv, "node-1"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/node/controller/loadTrustedCAs",
		"/node/controller/reloadCertificate",
	}, paths)
}

func TestCertBootstrapperPropagatesLoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/node/controller/loadTrustedCAs" {
			t.Errorf("unexpected request to %s", r.URL.Path)
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(400)
		_, _ = w.Write([]byte("no certificates found in inbox"))
	}))
	defer srv.Close()

	cb := NewCertBootstrapper(CertBootstrapperConfig{
		Certificate: &clusterdef.CertificateAuthority{
			CertPEM: "-----BEGIN CERTIFICATE-----",
		},
		Nodes:   newTestNodeManager(t),
		Retries: fastTestRetries(),
	}, nil)

	err := cb.LoadAndTrust(context.Background(), testNodeFor(t, srv, "node-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node-1")
}
