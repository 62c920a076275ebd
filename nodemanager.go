package cbclusterboot

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
	"github.com/couchbaselabs/cbclusterboot/cbmgmtx"
	"github.com/couchbaselabs/cbclusterboot/clusterdef"
)

type NodeManagerConfig struct {
	UserAgent   string
	Credentials CredentialsProvider

	// Certificate, when set, switches every authenticated management call
	// onto the TLS endpoint, trusting only the provided authority.
	Certificate clusterdef.CertificateProvider

	Settings *clusterdef.ClusterSettings
}

type NodeManagerOptions struct {
	Logger *zap.Logger

	// HttpTransport overrides the transport used for plaintext endpoints.
	HttpTransport http.RoundTripper
}

// NodeManager hands out per-node management clients, deciding between the
// plaintext and TLS endpoint and carrying the administrator credentials.
// Credentials are resolved through the provider at most once per manager.
type NodeManager struct {
	logger         *zap.Logger
	userAgent      string
	credentials    CredentialsProvider
	settings       *clusterdef.ClusterSettings
	plainTransport http.RoundTripper

	// secureTransport is nil unless a certificate authority is configured.
	secureTransport http.RoundTripper

	credsOnce sync.Once
	credsUser string
	credsPass string
	credsErr  error
}

func NewNodeManager(cfg NodeManagerConfig, opts *NodeManagerOptions) (*NodeManager, error) {
	if opts == nil {
		opts = &NodeManagerOptions{}
	}
	if cfg.Credentials == nil {
		return nil, errors.New("a credentials provider must be configured")
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = fmt.Sprintf("cbclusterboot/%s", buildVersion)
	}

	settings := cfg.Settings
	if settings == nil {
		settings = clusterdef.DefaultClusterSettings()
	}

	plainTransport := opts.HttpTransport
	if plainTransport == nil {
		plainTransport = http.DefaultTransport
	}

	mgr := &NodeManager{
		logger:         loggerOrNop(opts.Logger),
		userAgent:      userAgent,
		credentials:    cfg.Credentials,
		settings:       settings,
		plainTransport: plainTransport,
	}

	if cfg.Certificate != nil {
		caPem, err := cfg.Certificate.CACertPEM()
		if err != nil {
			return nil, err
		}

		rootCAs := x509.NewCertPool()
		if !rootCAs.AppendCertsFromPEM(caPem) {
			return nil, errors.New("could not parse the configured ca certificate")
		}

		mgr.secureTransport = &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    rootCAs,
				MinVersion: tls.VersionTLS12,
			},
		}
	}

	mgr.logger.Debug("node manager configured",
		zap.Bool("tls", mgr.secureTransport != nil),
		zap.Uint16("mgmtPort", settings.MgmtPort),
		zap.Uint16("mgmtTlsPort", settings.MgmtTLSPort))

	return mgr, nil
}

// UsesTLS indicates whether authenticated management calls go over the TLS
// endpoint.
func (m *NodeManager) UsesTLS() bool {
	return m.secureTransport != nil
}

// Credentials resolves the administrator credentials.  The provider is
// consulted at most once per manager; every later call observes the cached
// result.
func (m *NodeManager) Credentials(ctx context.Context) (string, string, error) {
	m.credsOnce.Do(func() {
		m.credsUser, m.credsPass, m.credsErr = m.credentials.Credentials(ctx)
	})
	return m.credsUser, m.credsPass, m.credsErr
}

// NodeHostPort returns the host:port form of the node's plaintext
// management address, the same form ns_server reports in its node lists.
// A hostname that already carries a port is used verbatim.
func (m *NodeManager) NodeHostPort(node *clusterdef.ServerNode) string {
	if _, _, err := net.SplitHostPort(node.Hostname); err == nil {
		return node.Hostname
	}
	return fmt.Sprintf("%s:%d", node.Hostname, m.settings.MgmtPort)
}

func (m *NodeManager) insecureEndpoint(node *clusterdef.ServerNode) string {
	return "http://" + m.NodeHostPort(node)
}

func (m *NodeManager) secureEndpoint(node *clusterdef.ServerNode) string {
	if _, _, err := net.SplitHostPort(node.Hostname); err == nil {
		return "https://" + node.Hostname
	}
	return fmt.Sprintf("https://%s:%d", node.Hostname, m.settings.MgmtTLSPort)
}

// MgmtForNode returns an authenticated management client for the node,
// preferring the TLS endpoint whenever a certificate authority is
// configured.
func (m *NodeManager) MgmtForNode(ctx context.Context, node *clusterdef.ServerNode) (cbmgmtx.Management, error) {
	user, pass, err := m.Credentials(ctx)
	if err != nil {
		return cbmgmtx.Management{}, err
	}

	auth := &cbhttpx.BasicAuth{
		Username: user,
		Password: pass,
	}

	if m.secureTransport != nil {
		return cbmgmtx.Management{
			Transport: m.secureTransport,
			UserAgent: m.userAgent,
			Endpoint:  m.secureEndpoint(node),
			Auth:      auth,
		}, nil
	}

	return cbmgmtx.Management{
		Transport: m.plainTransport,
		UserAgent: m.userAgent,
		Endpoint:  m.insecureEndpoint(node),
		Auth:      auth,
	}, nil
}

// BootstrapMgmtForNode returns an authenticated client for the node's
// plaintext endpoint regardless of TLS configuration.  Initialization has
// to run there: on a fresh node the TLS endpoint serves a certificate
// nothing trusts yet.
func (m *NodeManager) BootstrapMgmtForNode(ctx context.Context, node *clusterdef.ServerNode) (cbmgmtx.Management, error) {
	user, pass, err := m.Credentials(ctx)
	if err != nil {
		return cbmgmtx.Management{}, err
	}

	return cbmgmtx.Management{
		Transport: m.plainTransport,
		UserAgent: m.userAgent,
		Endpoint:  m.insecureEndpoint(node),
		Auth: &cbhttpx.BasicAuth{
			Username: user,
			Password: pass,
		},
	}, nil
}

// InsecureMgmtForNode returns a management client for the node's plaintext
// endpoint with authentication suppressed.  Certificate loading runs before
// the TLS endpoint can be trusted and before the node knows any
// credentials, so this is the only endpoint it can use.
func (m *NodeManager) InsecureMgmtForNode(node *clusterdef.ServerNode) cbmgmtx.Management {
	return cbmgmtx.Management{
		Transport: m.plainTransport,
		UserAgent: m.userAgent,
		Endpoint:  m.insecureEndpoint(node),
	}
}
