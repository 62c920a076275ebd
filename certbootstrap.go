package cbclusterboot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
	"github.com/couchbaselabs/cbclusterboot/cbmgmtx"
	"github.com/couchbaselabs/cbclusterboot/clusterdef"
)

type CertBootstrapperConfig struct {
	// Certificate left nil makes every LoadAndTrust call a no-op; the
	// cluster then stays on plaintext management endpoints.
	Certificate clusterdef.CertificateProvider

	Nodes   *NodeManager
	Retries cbhttpx.RetryManager
}

type CertBootstrapperOptions struct {
	Logger *zap.Logger
}

// CertBootstrapper tells nodes to pick up the CA material staged on their
// filesystem and reload their own certificates.  Both calls run against the
// plaintext endpoint with authentication suppressed: the TLS endpoint is
// exactly what is not trustworthy yet, and a fresh node knows no
// credentials.
type CertBootstrapper struct {
	logger      *zap.Logger
	certificate clusterdef.CertificateProvider
	nodes       *NodeManager
	retries     cbhttpx.RetryManager
}

func NewCertBootstrapper(cfg CertBootstrapperConfig, opts *CertBootstrapperOptions) *CertBootstrapper {
	if opts == nil {
		opts = &CertBootstrapperOptions{}
	}

	retries := cfg.Retries
	if retries == nil {
		retries = cbhttpx.NewRetryManagerFixed()
	}

	return &CertBootstrapper{
		logger:      loggerOrNop(opts.Logger),
		certificate: cfg.Certificate,
		nodes:       cfg.Nodes,
		retries:     retries,
	}
}

// LoadAndTrust loads the staged trusted CAs on the node and reloads its
// node certificate.
func (cb *CertBootstrapper) LoadAndTrust(ctx context.Context, node *clusterdef.ServerNode) error {
	if cb.certificate == nil {
		return nil
	}

	mgmt := cb.nodes.InsecureMgmtForNode(node)

	cb.logger.Info("loading trusted certificate authorities",
		zap.String("node", node.Name))

	err := cbhttpx.OrchestrateNoResponseRetries(ctx, cb.retries, func() error {
		return mgmt.LoadTrustedCAs(ctx, &cbmgmtx.LoadTrustedCAsOptions{})
	})
	if err != nil {
		return fmt.Errorf("loading trusted cas on %s failed: %w", node.Name, err)
	}

	err = cbhttpx.OrchestrateNoResponseRetries(ctx, cb.retries, func() error {
		return mgmt.ReloadCertificate(ctx, &cbmgmtx.ReloadCertificateOptions{})
	})
	if err != nil {
		return fmt.Errorf("reloading certificate on %s failed: %w", node.Name, err)
	}

	return nil
}
