package cbclusterboot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
	"github.com/couchbaselabs/cbclusterboot/cbmgmtx"
	"github.com/couchbaselabs/cbclusterboot/clusterdef"
	"github.com/couchbaselabs/cbclusterboot/contrib/cbconfig"
)

type RebalanceControllerConfig struct {
	Nodes   *NodeManager
	Retries cbhttpx.RetryManager
}

type RebalanceControllerOptions struct {
	Logger *zap.Logger

	// PollPeriod overrides how often rebalance progress is sampled.
	PollPeriod time.Duration
}

// RebalanceController starts rebalances and watches them to completion.
// The server reports no explicit success marker; the progress status
// falling back to "none" after a start is the completion signal.
type RebalanceController struct {
	logger     *zap.Logger
	nodes      *NodeManager
	retries    cbhttpx.RetryManager
	pollPeriod time.Duration
}

func NewRebalanceController(cfg RebalanceControllerConfig, opts *RebalanceControllerOptions) *RebalanceController {
	if opts == nil {
		opts = &RebalanceControllerOptions{}
	}

	retries := cfg.Retries
	if retries == nil {
		retries = cbhttpx.NewRetryManagerFixed()
	}

	pollPeriod := opts.PollPeriod
	if pollPeriod == 0 {
		pollPeriod = 1 * time.Second
	}

	return &RebalanceController{
		logger:     loggerOrNop(opts.Logger),
		nodes:      cfg.Nodes,
		retries:    retries,
		pollPeriod: pollPeriod,
	}
}

// Trigger starts a rebalance across every node the cluster currently
// knows.  The caller decides whether one is due; triggering with no
// topology change is legal but pointless.
func (rc *RebalanceController) Trigger(ctx context.Context, primary *clusterdef.ServerNode) error {
	mgmt, err := rc.nodes.MgmtForNode(ctx, primary)
	if err != nil {
		return err
	}

	nodeList, err := cbhttpx.OrchestrateRetries(ctx, rc.retries,
		func() ([]cbconfig.FullNodeJson, error) {
			return mgmt.ListNodes(ctx, &cbmgmtx.ListNodesOptions{})
		})
	if err != nil {
		return fmt.Errorf("listing nodes for rebalance failed: %w", err)
	}

	knownNodes := make([]string, 0, len(nodeList))
	for _, node := range nodeList {
		knownNodes = append(knownNodes, node.OTPNode)
	}

	rc.logger.Info("starting rebalance",
		zap.Strings("knownNodes", knownNodes))

	err = cbhttpx.OrchestrateNoResponseRetries(ctx, rc.retries, func() error {
		return mgmt.Rebalance(ctx, &cbmgmtx.RebalanceOptions{
			KnownNodes: knownNodes,
		})
	})
	if err != nil {
		return fmt.Errorf("starting rebalance failed: %w", err)
	}

	return nil
}

// AwaitCompletion polls rebalance progress until the cluster reports none
// running.
func (rc *RebalanceController) AwaitCompletion(ctx context.Context, primary *clusterdef.ServerNode) error {
	mgmt, err := rc.nodes.MgmtForNode(ctx, primary)
	if err != nil {
		return err
	}

	for {
		progress, err := cbhttpx.OrchestrateRetries(ctx, rc.retries,
			func() (*cbmgmtx.RebalanceProgressJson, error) {
				return mgmt.GetRebalanceProgress(ctx, &cbmgmtx.GetRebalanceProgressOptions{})
			})
		if err != nil {
			return fmt.Errorf("fetching rebalance progress failed: %w", err)
		}

		if progress.ErrorMessage != "" {
			return fmt.Errorf("rebalance failed: %s", progress.ErrorMessage)
		}

		if !progress.IsRunning() {
			rc.logger.Info("rebalance complete")
			completedRebalances.Add(ctx, 1)
			return nil
		}

		rc.logger.Debug("rebalance still running",
			zap.String("status", progress.Status))

		select {
		case <-time.After(rc.pollPeriod):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
