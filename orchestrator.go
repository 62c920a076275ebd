package cbclusterboot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/couchbaselabs/cbclusterboot/clusterdef"
)

// NodeInfra abstracts whatever owns the actual server processes, containers
// or VMs or local daemons.  The infrastructure is also expected to publish
// each node's server resource state into the stream as it comes and goes;
// the orchestrator only ever asks it to stop nodes.
type NodeInfra interface {
	StopNode(ctx context.Context, node *clusterdef.ServerNode) error
}

type OrchestratorConfig struct {
	Cluster     *clusterdef.Cluster
	Nodes       *NodeManager
	Stream      ResourceStateStream
	Initializer *ClusterInitializer
	Certs       *CertBootstrapper
	Joiner      *NodeJoinCoordinator
	Rebalancer  *RebalanceController
	Buckets     *BucketProvisioner

	// Infra, when set, is used to stop the cluster's nodes on StopCluster.
	Infra NodeInfra
}

type OrchestratorOptions struct {
	Logger *zap.Logger
}

// Orchestrator drives a cluster definition to Running.  It consumes server
// resource states from the stream; once the primary node's server reports
// Running it runs the bootstrap sequence, and once that lands the cluster
// at Running it provisions the declared buckets as independent background
// tasks.  All lifecycle outcomes are published back onto the stream, which
// is the only way anything observes the orchestrator.
type Orchestrator struct {
	logger      *zap.Logger
	cluster     *clusterdef.Cluster
	nodes       *NodeManager
	stream      ResourceStateStream
	initializer *ClusterInitializer
	certs       *CertBootstrapper
	joiner      *NodeJoinCoordinator
	rebalancer  *RebalanceController
	buckets     *BucketProvisioner
	infra       NodeInfra

	lock          sync.Mutex
	runCtx        context.Context
	bootCancel    context.CancelFunc
	bucketCancels map[ResourceRef]context.CancelFunc
	taskWg        sync.WaitGroup
}

func NewOrchestrator(config *OrchestratorConfig, opts *OrchestratorOptions) (*Orchestrator, error) {
	if config == nil {
		config = &OrchestratorConfig{}
	}
	if opts == nil {
		opts = &OrchestratorOptions{}
	}

	if config.Cluster == nil {
		return nil, errors.New("a cluster definition must be provided")
	}
	if config.Nodes == nil {
		return nil, errors.New("a node manager must be provided")
	}
	if config.Stream == nil {
		return nil, errors.New("a resource state stream must be provided")
	}
	if config.Initializer == nil || config.Certs == nil ||
		config.Joiner == nil || config.Rebalancer == nil || config.Buckets == nil {
		return nil, errors.New("all bootstrap components must be provided")
	}

	err := config.Cluster.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid cluster definition: %w", err)
	}

	return &Orchestrator{
		logger:        loggerOrNop(opts.Logger),
		cluster:       config.Cluster,
		nodes:         config.Nodes,
		stream:        config.Stream,
		initializer:   config.Initializer,
		certs:         config.Certs,
		joiner:        config.Joiner,
		rebalancer:    config.Rebalancer,
		buckets:       config.Buckets,
		infra:         config.Infra,
		bucketCancels: make(map[ResourceRef]context.CancelFunc),
	}, nil
}

func (o *Orchestrator) clusterResource() ResourceRef {
	return ClusterResource(o.cluster.Name)
}

// childResources lists the resources that mirror the cluster's lifecycle:
// every server group and every declared bucket, samples included.
func (o *Orchestrator) childResources() []ResourceRef {
	var children []ResourceRef
	for _, group := range o.cluster.ServerGroups {
		children = append(children, ServerGroupResource(group.Name))
	}
	for _, bucket := range o.cluster.Buckets {
		children = append(children, BucketResource(bucket.Name))
	}
	for _, sample := range o.cluster.SampleBuckets {
		children = append(children, BucketResource(sample.Name))
	}
	return children
}

// publishClusterState publishes a cluster transition and mirrors it onto
// the child resources so observers of any one resource see a consistent
// tree.  Starting revives every child; Running is mirrored to server groups
// only, since buckets reach Running through their own provisioning; the
// stopping and terminal transitions skip children that are already terminal
// so a failed bucket keeps its own exit code.
func (o *Orchestrator) publishClusterState(state ResourceState, exitCode int) {
	o.stream.Publish(o.clusterResource(), state, exitCode)

	for _, child := range o.childResources() {
		if state == ResourceStateRunning && child.Kind == ResourceKindBucket {
			continue
		}
		if state != ResourceStateStarting {
			if cur, ok := o.stream.Current(child); ok && cur.State.IsTerminal() {
				continue
			}
		}
		o.stream.Publish(child, state, exitCode)
	}
}

// Run consumes the resource state stream until ctx is cancelled, reacting
// to the primary node's server resource coming up.  It has to be running
// for StartCluster and StopCluster to work, since the background work they
// spawn is scoped to it.
func (o *Orchestrator) Run(ctx context.Context) error {
	primary, err := o.cluster.Primary()
	if err != nil {
		return err
	}

	o.lock.Lock()
	if o.runCtx != nil {
		o.lock.Unlock()
		return ErrOrchestratorAlreadyRunning
	}
	o.runCtx = ctx
	o.lock.Unlock()

	events := o.stream.Watch(ctx)

	// the watcher only carries snapshots published after it subscribed, so
	// a primary that was already up has to be picked up from current state
	if snap, ok := o.stream.Current(ServerResource(primary.Name)); ok &&
		snap.State == ResourceStateRunning {
		o.maybeStartBootstrap()
	}

	for snap := range events {
		if snap.Resource.Kind == ResourceKindServer &&
			snap.Resource.Name == primary.Name &&
			snap.State == ResourceStateRunning {
			o.maybeStartBootstrap()
		}
	}

	o.taskWg.Wait()

	o.lock.Lock()
	o.runCtx = nil
	o.lock.Unlock()

	return ctx.Err()
}

// StartCluster explicitly requests the bootstrap sequence, the same one the
// primary server coming up triggers.  The sequence runs in the background;
// progress is observed through the stream.
func (o *Orchestrator) StartCluster(ctx context.Context) error {
	o.lock.Lock()
	running := o.runCtx != nil
	o.lock.Unlock()

	if !running {
		return ErrOrchestratorNotRunning
	}

	if !o.maybeStartBootstrap() {
		return ErrClusterAlreadyStarted
	}
	return nil
}

// maybeStartBootstrap begins the bootstrap sequence unless one is already
// underway or the cluster is mid-stop.  The Starting publication happens
// under the lock so two back-to-back triggers cannot both pass the guard.
func (o *Orchestrator) maybeStartBootstrap() bool {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.runCtx == nil {
		return false
	}

	if snap, ok := o.stream.Current(o.clusterResource()); ok {
		switch snap.State {
		case ResourceStateStarting, ResourceStateRunning, ResourceStateStopping:
			o.logger.Debug("ignoring bootstrap trigger, cluster is busy",
				zap.String("state", string(snap.State)))
			return false
		}
	}

	o.logger.Info("starting cluster bootstrap",
		zap.String("cluster", o.cluster.Name))

	bootCtx, cancel := context.WithCancel(o.runCtx)
	o.bootCancel = cancel

	o.publishClusterState(ResourceStateStarting, 0)

	o.taskWg.Add(1)
	go func() {
		defer o.taskWg.Done()
		o.superviseBootstrap(bootCtx)

		o.lock.Lock()
		if o.bootCancel != nil {
			o.bootCancel()
			o.bootCancel = nil
		}
		o.lock.Unlock()
	}()

	return true
}

func (o *Orchestrator) superviseBootstrap(ctx context.Context) {
	err := runSupervised(ctx, o.logger, "cluster bootstrap", o.bootstrap)
	if err != nil {
		if isContextErr(err) {
			// whoever cancelled the bootstrap owns the next transition
			o.logger.Info("cluster bootstrap was cancelled")
			return
		}

		o.logger.Error("cluster bootstrap failed", zap.Error(err))
		o.publishClusterState(ResourceStateFailedToStart, 1)
		return
	}

	o.publishClusterState(ResourceStateRunning, 0)

	o.logger.Info("cluster is running",
		zap.String("cluster", o.cluster.Name))

	o.startBucketTasks()
}

// bootstrap is the ordered sequence that takes a reachable primary node to
// a formed cluster: initialization, certificate trust, address publication,
// node joins, then a rebalance when any node was actually added.
func (o *Orchestrator) bootstrap(ctx context.Context) error {
	primary, err := o.cluster.Primary()
	if err != nil {
		return err
	}

	initState, err := o.initializer.State(ctx)
	if err != nil {
		return err
	}

	if initState == ClusterInitStateUninitialized {
		err = o.initializer.Initialize(ctx)
		if err != nil {
			return err
		}
	} else {
		o.logger.Info("cluster is already initialized, skipping initialization")
	}

	err = o.certs.LoadAndTrust(ctx, primary)
	if err != nil {
		return err
	}

	err = o.joiner.SetAlternateAddresses(ctx, primary)
	if err != nil {
		return err
	}

	var others []*clusterdef.ServerNode
	for _, node := range o.cluster.Nodes() {
		if node != primary {
			others = append(others, node)
		}
	}

	if len(others) == 0 {
		return nil
	}

	existing, err := o.joiner.ListClusterHosts(ctx, primary)
	if err != nil {
		return err
	}

	results := o.joiner.JoinAll(ctx, primary, others, existing)

	numFailed := 0
	for _, res := range results {
		if res.Err != nil {
			numFailed++
		}
	}
	if numFailed > 0 {
		o.logger.Warn("some nodes failed to join",
			zap.Int("numFailed", numFailed),
			zap.Int("numNodes", len(others)))
	}

	if !AnyAdded(results) {
		o.logger.Info("no nodes were added, skipping rebalance")
		return nil
	}

	err = o.rebalancer.Trigger(ctx, primary)
	if err != nil {
		return err
	}

	return o.rebalancer.AwaitCompletion(ctx, primary)
}

// startBucketTasks launches one background provisioning task per declared
// bucket.  Each publishes its own bucket resource states; one bucket
// failing never touches the cluster resource or the other buckets.
func (o *Orchestrator) startBucketTasks() {
	primary, err := o.cluster.Primary()
	if err != nil {
		return
	}

	for _, bucket := range o.cluster.Buckets {
		o.launchBucketTask(BucketResource(bucket.Name),
			func(taskCtx context.Context) error {
				return o.buckets.EnsureBucket(taskCtx, primary, bucket)
			})
	}

	for _, sample := range o.cluster.SampleBuckets {
		o.launchBucketTask(BucketResource(sample.Name),
			func(taskCtx context.Context) error {
				return o.buckets.EnsureSampleBucket(taskCtx, primary, sample)
			})
	}
}

// launchBucketTask runs fn as a supervised background task publishing the
// bucket resource's states.  Tasks are scoped to the orchestrator run, not
// to the bootstrap that spawned them, and each carries its own cancel so a
// single bucket can be stopped on its own.
func (o *Orchestrator) launchBucketTask(res ResourceRef, fn func(context.Context) error) {
	o.lock.Lock()

	if o.runCtx == nil {
		o.lock.Unlock()
		return
	}

	// the cluster may have begun stopping between the bootstrap finishing
	// and this task launching; the stop owns every resource state then
	if snap, ok := o.stream.Current(o.clusterResource()); !ok ||
		snap.State != ResourceStateRunning {
		o.lock.Unlock()
		return
	}

	taskCtx, cancel := context.WithCancel(o.runCtx)
	o.bucketCancels[res] = cancel

	// published under the lock, and before the stop watcher starts, so the
	// watcher cannot match a terminal state left over from an earlier run
	o.stream.Publish(res, ResourceStateStarting, 0)

	o.lock.Unlock()

	// a bucket can be stopped on its own without the cluster coming down,
	// so the task watches its own resource alongside the parent context
	o.taskWg.Add(1)
	go func() {
		defer o.taskWg.Done()

		_, err := o.stream.WaitFor(taskCtx, res,
			ResourceStateStopping, ResourceStateExited)
		if err == nil {
			o.logger.Debug("bucket resource was stopped, cancelling its provisioning",
				zap.String("bucket", res.Name))
			cancel()
		}
	}()

	o.taskWg.Add(1)
	go func() {
		defer o.taskWg.Done()
		defer cancel()
		defer func() {
			o.lock.Lock()
			delete(o.bucketCancels, res)
			o.lock.Unlock()
		}()

		err := runSupervised(taskCtx, o.logger,
			fmt.Sprintf("provisioning of bucket %s", res.Name), fn)
		if err != nil {
			if isContextErr(err) {
				o.logger.Info("bucket provisioning was cancelled",
					zap.String("bucket", res.Name))
				return
			}

			o.logger.Error("bucket provisioning failed",
				zap.String("bucket", res.Name),
				zap.Error(err))
			o.stream.Publish(res, ResourceStateFailedToStart, 1)
			return
		}

		o.stream.Publish(res, ResourceStateRunning, 0)
	}()
}

// StopCluster tears the cluster down: Stopping is published across the
// tree, all in-flight bootstrap and provisioning work is cancelled, every
// node is stopped through the infrastructure, and the tree is marked
// Exited.  A cluster that is neither starting nor running cannot be
// stopped.
func (o *Orchestrator) StopCluster(ctx context.Context) error {
	o.lock.Lock()

	snap, ok := o.stream.Current(o.clusterResource())
	if !ok || (snap.State != ResourceStateStarting && snap.State != ResourceStateRunning) {
		o.lock.Unlock()
		return ErrClusterNotRunning
	}

	o.logger.Info("stopping cluster",
		zap.String("cluster", o.cluster.Name))

	o.publishClusterState(ResourceStateStopping, 0)

	cancels := make([]context.CancelFunc, 0, len(o.bucketCancels)+1)
	if o.bootCancel != nil {
		cancels = append(cancels, o.bootCancel)
		o.bootCancel = nil
	}
	for res, cancel := range o.bucketCancels {
		cancels = append(cancels, cancel)
		delete(o.bucketCancels, res)
	}

	o.lock.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	o.taskWg.Wait()

	for _, node := range o.cluster.Nodes() {
		serverRes := ServerResource(node.Name)
		o.stream.Publish(serverRes, ResourceStateStopping, 0)

		if o.infra != nil {
			err := o.infra.StopNode(ctx, node)
			if err != nil {
				o.logger.Error("stopping a node failed",
					zap.String("node", node.Name),
					zap.Error(err))
				o.stream.Publish(serverRes, ResourceStateExited, 1)
				continue
			}
		}

		o.stream.Publish(serverRes, ResourceStateExited, 0)
	}

	o.publishClusterState(ResourceStateExited, 0)

	o.logger.Info("cluster is stopped",
		zap.String("cluster", o.cluster.Name))

	return nil
}

// ConnectionString renders the client connection string for the running
// cluster, listing the data service nodes by their external hostname when
// one is declared.
func (o *Orchestrator) ConnectionString() (string, error) {
	snap, ok := o.stream.Current(o.clusterResource())
	if !ok || snap.State != ResourceStateRunning {
		return "", ErrClusterNotRunning
	}

	var hosts []string
	for _, node := range o.cluster.Nodes() {
		if !node.Services.Has(clusterdef.ServiceData) {
			continue
		}

		host := node.Hostname
		if ext := node.ExternalHostname(); ext != "" {
			host = ext
		}
		hosts = append(hosts, host)
	}

	scheme := "couchbase"
	if o.nodes.UsesTLS() {
		scheme = "couchbases"
	}

	return fmt.Sprintf("%s://%s", scheme, strings.Join(hosts, ",")), nil
}
