package cbclusterboot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
	"github.com/couchbaselabs/cbclusterboot/cbmgmtx"
	"github.com/couchbaselabs/cbclusterboot/clusterdef"
	"github.com/couchbaselabs/cbclusterboot/contrib/cbconfig"
)

type NodeJoinCoordinatorConfig struct {
	Nodes   *NodeManager
	Certs   *CertBootstrapper
	Retries cbhttpx.RetryManager

	// Stream, when set, gates each join on the node's server resource
	// reaching Running first.
	Stream ResourceStateStream
}

type NodeJoinCoordinatorOptions struct {
	Logger *zap.Logger
}

// NodeJoinCoordinator brings additional nodes into an initialized cluster:
// certificate trust, the add-node call through the primary, and the node's
// external address mapping.  Nodes join concurrently and one node's failure
// never interrupts its siblings.
type NodeJoinCoordinator struct {
	logger  *zap.Logger
	nodes   *NodeManager
	certs   *CertBootstrapper
	retries cbhttpx.RetryManager
	stream  ResourceStateStream
}

func NewNodeJoinCoordinator(cfg NodeJoinCoordinatorConfig, opts *NodeJoinCoordinatorOptions) *NodeJoinCoordinator {
	if opts == nil {
		opts = &NodeJoinCoordinatorOptions{}
	}

	retries := cfg.Retries
	if retries == nil {
		retries = cbhttpx.NewRetryManagerFixed()
	}

	return &NodeJoinCoordinator{
		logger:  loggerOrNop(opts.Logger),
		nodes:   cfg.Nodes,
		certs:   cfg.Certs,
		retries: retries,
		stream:  cfg.Stream,
	}
}

// NodeJoinResult reports the outcome of one node's join sequence.  Added is
// false both on failure and when the node was already part of the cluster.
type NodeJoinResult struct {
	Node  *clusterdef.ServerNode
	Added bool
	Err   error
}

// AnyAdded reports whether at least one join actually added a node, which
// is what decides whether a rebalance is due.
func AnyAdded(results []NodeJoinResult) bool {
	for _, res := range results {
		if res.Added {
			return true
		}
	}
	return false
}

// ListClusterHosts fetches the management host:port of every node currently
// in the cluster, which is the skip list JoinAll matches declared nodes
// against.
func (jc *NodeJoinCoordinator) ListClusterHosts(
	ctx context.Context,
	primary *clusterdef.ServerNode,
) ([]string, error) {
	mgmt, err := jc.nodes.MgmtForNode(ctx, primary)
	if err != nil {
		return nil, err
	}

	nodes, err := cbhttpx.OrchestrateRetries(ctx, jc.retries,
		func() ([]cbconfig.FullNodeJson, error) {
			return mgmt.ListNodes(ctx, &cbmgmtx.ListNodesOptions{})
		})
	if err != nil {
		return nil, fmt.Errorf("listing cluster nodes failed: %w", err)
	}

	hosts := make([]string, 0, len(nodes))
	for _, node := range nodes {
		hosts = append(hosts, node.Hostname)
	}

	return hosts, nil
}

// JoinAll runs the join sequence for every node concurrently and waits for
// all of them.  existingNodes carries the host:port management addresses
// already in the cluster; nodes found there are not re-added but still get
// their alternate addresses published.
func (jc *NodeJoinCoordinator) JoinAll(
	ctx context.Context,
	primary *clusterdef.ServerNode,
	nodes []*clusterdef.ServerNode,
	existingNodes []string,
) []NodeJoinResult {
	results := make([]NodeJoinResult, len(nodes))

	var wg sync.WaitGroup
	for nodeIdx, node := range nodes {
		wg.Add(1)
		go func(nodeIdx int, node *clusterdef.ServerNode) {
			defer wg.Done()

			added, err := jc.joinOne(ctx, primary, node, existingNodes)
			if err != nil {
				err = NodeJoinError{NodeName: node.Name, Cause: err}
				jc.logger.Error("node join failed",
					zap.String("node", node.Name),
					zap.Error(err))
			}

			results[nodeIdx] = NodeJoinResult{
				Node:  node,
				Added: added,
				Err:   err,
			}
		}(nodeIdx, node)
	}
	wg.Wait()

	return results
}

func (jc *NodeJoinCoordinator) joinOne(
	ctx context.Context,
	primary *clusterdef.ServerNode,
	node *clusterdef.ServerNode,
	existingNodes []string,
) (bool, error) {
	if jc.stream != nil {
		_, err := jc.stream.WaitFor(ctx, ServerResource(node.Name), ResourceStateRunning)
		if err != nil {
			return false, err
		}
	}

	hostPort := jc.nodes.NodeHostPort(node)
	if slices.Contains(existingNodes, hostPort) {
		jc.logger.Info("node is already part of the cluster, skipping add",
			zap.String("node", node.Name),
			zap.String("address", hostPort))

		return false, jc.SetAlternateAddresses(ctx, node)
	}

	if err := jc.certs.LoadAndTrust(ctx, node); err != nil {
		return false, err
	}

	added, err := jc.addNode(ctx, primary, node, hostPort)
	if err != nil {
		return false, err
	}

	return added, jc.SetAlternateAddresses(ctx, node)
}

func (jc *NodeJoinCoordinator) addNode(
	ctx context.Context,
	primary *clusterdef.ServerNode,
	node *clusterdef.ServerNode,
	hostPort string,
) (bool, error) {
	mgmt, err := jc.nodes.MgmtForNode(ctx, primary)
	if err != nil {
		return false, err
	}

	user, pass, err := jc.nodes.Credentials(ctx)
	if err != nil {
		return false, err
	}

	resp, err := cbhttpx.OrchestrateRetries(ctx, jc.retries,
		func() (*cbmgmtx.AddNodeResponse, error) {
			return mgmt.AddNode(ctx, &cbmgmtx.AddNodeOptions{
				Hostname: hostPort,
				Username: user,
				Password: pass,
				Services: node.Services.MgmtStrings(),
			})
		})
	if err != nil {
		// a retried add that succeeded server-side before we saw the
		// response surfaces as already-joined on the extra attempt
		if errors.Is(err, cbmgmtx.ErrNodeAlreadyJoined) {
			jc.logger.Info("node reported itself already joined",
				zap.String("node", node.Name))
			return false, nil
		}
		return false, err
	}

	jc.logger.Info("added node to cluster",
		zap.String("node", node.Name),
		zap.String("otpNode", resp.OTPNode))
	joinedNodes.Add(ctx, 1)

	return true, nil
}

// SetAlternateAddresses publishes the node's declared endpoints as its
// external address mapping.  It runs for every node, the primary and
// already-joined nodes included; nodes declaring no endpoints are left
// untouched.
func (jc *NodeJoinCoordinator) SetAlternateAddresses(ctx context.Context, node *clusterdef.ServerNode) error {
	if !node.HasEndpoints() {
		jc.logger.Debug("node declares no external endpoints",
			zap.String("node", node.Name))
		return nil
	}

	opts, err := altAddrOptions(node)
	if err != nil {
		return err
	}

	mgmt, err := jc.nodes.MgmtForNode(ctx, node)
	if err != nil {
		return err
	}

	jc.logger.Info("publishing alternate addresses",
		zap.String("node", node.Name),
		zap.String("externalHost", opts.Hostname))

	err = cbhttpx.OrchestrateNoResponseRetries(ctx, jc.retries, func() error {
		return mgmt.SetupAlternateAddressesExternal(ctx, opts)
	})
	if err != nil {
		return fmt.Errorf("publishing alternate addresses for %s failed: %w", node.Name, err)
	}

	return nil
}

// altAddrOptions translates a node's declared endpoints into the port
// fields of the alternate-addresses call.
func altAddrOptions(node *clusterdef.ServerNode) (*cbmgmtx.AlternateAddressesExternalOptions, error) {
	opts := &cbmgmtx.AlternateAddressesExternalOptions{
		Hostname: node.ExternalHostname(),
	}

	for _, ep := range node.Endpoints {
		switch ep.Name {
		case clusterdef.EndpointManagement:
			opts.MgmtPort = ep.Port
		case clusterdef.EndpointManagementSecure:
			opts.MgmtSSLPort = ep.Port
		case clusterdef.EndpointData:
			opts.KvPort = ep.Port
		case clusterdef.EndpointDataSecure:
			opts.KvSSLPort = ep.Port
		case clusterdef.EndpointViews:
			opts.CapiPort = ep.Port
		case clusterdef.EndpointViewsSecure:
			opts.CapiSSLPort = ep.Port
		case clusterdef.EndpointQuery:
			opts.N1qlPort = ep.Port
		case clusterdef.EndpointQuerySecure:
			opts.N1qlSSLPort = ep.Port
		case clusterdef.EndpointSearch:
			opts.FtsPort = ep.Port
		case clusterdef.EndpointSearchSecure:
			opts.FtsSSLPort = ep.Port
		case clusterdef.EndpointAnalytics:
			opts.CbasPort = ep.Port
		case clusterdef.EndpointAnalyticsSecure:
			opts.CbasSSLPort = ep.Port
		case clusterdef.EndpointEventing:
			opts.EventingPort = ep.Port
		case clusterdef.EndpointEventingSecure:
			opts.EventingSSLPort = ep.Port
		case clusterdef.EndpointEventingDebug:
			opts.EventingDebugPort = ep.Port
		case clusterdef.EndpointBackup:
			opts.BackupPort = ep.Port
		case clusterdef.EndpointBackupSecure:
			opts.BackupSSLPort = ep.Port
		default:
			return nil, fmt.Errorf("unknown endpoint name `%s` on node %s", ep.Name, node.Name)
		}
	}

	return opts, nil
}
