package cbclusterboot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
	"github.com/couchbaselabs/cbclusterboot/cbmgmtx"
	"github.com/couchbaselabs/cbclusterboot/clusterdef"
	"github.com/couchbaselabs/cbclusterboot/contrib/cbconfig"
)

type ClusterInitState string

const (
	ClusterInitStateUnknown       ClusterInitState = ""
	ClusterInitStateUninitialized ClusterInitState = "uninitialized"
	ClusterInitStateInitialized   ClusterInitState = "initialized"
)

type ClusterInitializerConfig struct {
	Cluster *clusterdef.Cluster
	Nodes   *NodeManager
	Retries cbhttpx.RetryManager
}

type ClusterInitializerOptions struct {
	Logger *zap.Logger
}

// ClusterInitializer drives first-time initialization of the primary node.
// Initialize is not idempotent; callers check State first and skip it when
// the cluster is already provisioned.
type ClusterInitializer struct {
	logger  *zap.Logger
	cluster *clusterdef.Cluster
	nodes   *NodeManager
	retries cbhttpx.RetryManager
}

func NewClusterInitializer(cfg ClusterInitializerConfig, opts *ClusterInitializerOptions) *ClusterInitializer {
	if opts == nil {
		opts = &ClusterInitializerOptions{}
	}

	retries := cfg.Retries
	if retries == nil {
		retries = cbhttpx.NewRetryManagerFixed()
	}

	return &ClusterInitializer{
		logger:  loggerOrNop(opts.Logger),
		cluster: cfg.Cluster,
		nodes:   cfg.Nodes,
		retries: retries,
	}
}

// State probes whether the primary node already belongs to a provisioned
// cluster.  A missing default pool is the positive signal for a fresh node;
// any other failure is returned as-is.
func (ci *ClusterInitializer) State(ctx context.Context) (ClusterInitState, error) {
	primary, err := ci.cluster.Primary()
	if err != nil {
		return ClusterInitStateUnknown, err
	}

	mgmt, err := ci.nodes.BootstrapMgmtForNode(ctx, primary)
	if err != nil {
		return ClusterInitStateUnknown, err
	}

	_, err = cbhttpx.OrchestrateRetries(ctx, ci.retries,
		func() (*cbconfig.FullClusterConfigJson, error) {
			return mgmt.GetClusterConfig(ctx, &cbmgmtx.GetClusterConfigOptions{})
		})
	if err != nil {
		if errors.Is(err, cbmgmtx.ErrPoolNotInitialized) {
			return ClusterInitStateUninitialized, nil
		}
		return ClusterInitStateUnknown, err
	}

	return ClusterInitStateInitialized, nil
}

// Initialize provisions the primary node with the resolved settings and the
// primary's service set.  The management port is pinned with port=SAME so
// the node keeps serving where we found it.
func (ci *ClusterInitializer) Initialize(ctx context.Context) error {
	primary, err := ci.cluster.Primary()
	if err != nil {
		return err
	}

	settings := ci.cluster.ResolveSettings()

	user, pass, err := ci.nodes.Credentials(ctx)
	if err != nil {
		return err
	}

	storageMode := settings.IndexStorageMode
	if storageMode == clusterdef.IndexStorageModeUnset {
		if ci.cluster.IsEnterprise() {
			storageMode = clusterdef.IndexStorageModePlasma
		} else {
			storageMode = clusterdef.IndexStorageModeForestDB
		}
	}

	initOpts := &cbmgmtx.ClusterInitOptions{
		Username:           user,
		Password:           pass,
		ClusterName:        ci.cluster.Name,
		MemoryQuotaMB:      settings.MemoryQuotaMB,
		QueryMemoryQuotaMB: settings.QueryMemoryQuotaMB,
		IndexMemoryQuotaMB: settings.IndexMemoryQuotaMB,
		FtsMemoryQuotaMB:   settings.FtsMemoryQuotaMB,
		IndexerStorageMode: string(storageMode),
		Services:           primary.Services.MgmtStrings(),
		Port:               "SAME",
	}

	// community edition servers reject the enterprise-only fields outright
	if ci.cluster.IsEnterprise() {
		initOpts.CbasMemoryQuotaMB = settings.AnalyticsMemoryQuotaMB
		initOpts.EventingMemoryQuotaMB = settings.EventingMemoryQuotaMB
		if settings.NodeToNodeEncryption {
			initOpts.NodeEncryption = "on"
		}
	}

	mgmt, err := ci.nodes.BootstrapMgmtForNode(ctx, primary)
	if err != nil {
		return err
	}

	ci.logger.Info("initializing cluster",
		zap.String("node", primary.Name),
		zap.Strings("services", initOpts.Services),
		zap.String("indexStorageMode", initOpts.IndexerStorageMode))

	err = cbhttpx.OrchestrateNoResponseRetries(ctx, ci.retries, func() error {
		return mgmt.ClusterInit(ctx, initOpts)
	})
	if err != nil {
		return fmt.Errorf("cluster initialization failed: %w", err)
	}

	return nil
}
