package cbclusterboot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
	"github.com/couchbaselabs/cbclusterboot/cbmgmtx"
	"github.com/couchbaselabs/cbclusterboot/clusterdef"
)

type BucketProvisionerConfig struct {
	Nodes   *NodeManager
	Retries cbhttpx.RetryManager
}

type BucketProvisionerOptions struct {
	Logger *zap.Logger

	// HealthPollPeriod is the interval between health checks after a bucket
	// create.  Defaults to 250ms.
	HealthPollPeriod time.Duration

	// TaskPollPeriod is the interval between task list checks while a sample
	// dataset loads.  Defaults to 500ms.
	TaskPollPeriod time.Duration
}

// BucketProvisioner creates the declared buckets on a running cluster and
// waits for them to become usable.  A bucket that already exists is left
// exactly as found, settings included, so repeated runs settle into a single
// status fetch per bucket.
type BucketProvisioner struct {
	logger  *zap.Logger
	nodes   *NodeManager
	retries cbhttpx.RetryManager

	healthPollPeriod time.Duration
	taskPollPeriod   time.Duration
}

func NewBucketProvisioner(
	config *BucketProvisionerConfig,
	opts *BucketProvisionerOptions,
) (*BucketProvisioner, error) {
	if config == nil {
		config = &BucketProvisionerConfig{}
	}
	if opts == nil {
		opts = &BucketProvisionerOptions{}
	}

	if config.Nodes == nil {
		return nil, errors.New("a node manager must be provided")
	}

	retries := config.Retries
	if retries == nil {
		retries = cbhttpx.NewRetryManagerFixed()
	}

	healthPollPeriod := opts.HealthPollPeriod
	if healthPollPeriod == 0 {
		healthPollPeriod = 250 * time.Millisecond
	}

	taskPollPeriod := opts.TaskPollPeriod
	if taskPollPeriod == 0 {
		taskPollPeriod = 500 * time.Millisecond
	}

	return &BucketProvisioner{
		logger:           loggerOrNop(opts.Logger),
		nodes:            config.Nodes,
		retries:          retries,
		healthPollPeriod: healthPollPeriod,
		taskPollPeriod:   taskPollPeriod,
	}, nil
}

// bucketSettingsFromDef maps a declared bucket onto wire settings.  The
// optional fields carry their wire values verbatim; anything left nil stays
// unset and is omitted from the request so the server applies its own
// default.
func bucketSettingsFromDef(bucket *clusterdef.Bucket) (cbmgmtx.BucketSettings, error) {
	settings := cbmgmtx.BucketSettings{
		MutableBucketSettings: cbmgmtx.MutableBucketSettings{
			RAMQuotaMB:    bucket.EffectiveRAMQuotaMB(),
			ReplicaNumber: 1,
		},
	}

	switch bucket.Type {
	case clusterdef.BucketTypeUnset, clusterdef.BucketTypeCouchbase:
		settings.BucketType = cbmgmtx.BucketTypeCouchbase
	case clusterdef.BucketTypeEphemeral:
		settings.BucketType = cbmgmtx.BucketTypeEphemeral
	case clusterdef.BucketTypeMemcached:
		settings.BucketType = cbmgmtx.BucketTypeMemcached
	default:
		return cbmgmtx.BucketSettings{}, fmt.Errorf("unknown bucket type `%s`", bucket.Type)
	}

	if bucket.NumReplicas != nil {
		settings.ReplicaNumber = *bucket.NumReplicas
	}
	if bucket.FlushEnabled != nil {
		settings.FlushEnabled = *bucket.FlushEnabled
	}
	if bucket.MaxTTL != nil {
		settings.MaxTTL = *bucket.MaxTTL
	}
	if bucket.EvictionPolicy != nil {
		settings.EvictionPolicy = cbmgmtx.EvictionPolicyType(*bucket.EvictionPolicy)
	}
	if bucket.CompressionMode != nil {
		settings.CompressionMode = cbmgmtx.CompressionMode(*bucket.CompressionMode)
	}
	if bucket.DurabilityMinLevel != nil {
		settings.DurabilityMinLevel = cbmgmtx.DurabilityLevel(*bucket.DurabilityMinLevel)
	}
	if bucket.ConflictResolution != nil {
		settings.ConflictResolutionType = cbmgmtx.ConflictResolutionType(*bucket.ConflictResolution)
	}
	if bucket.StorageBackend != nil {
		settings.StorageBackend = cbmgmtx.StorageBackend(*bucket.StorageBackend)
	}

	return settings, nil
}

// EnsureBucket makes sure the declared bucket exists and every node serving
// it reports healthy.  Scopes and collections are only reconciled on the
// create path; an existing bucket short-circuits to a single status fetch.
func (p *BucketProvisioner) EnsureBucket(
	ctx context.Context,
	primary *clusterdef.ServerNode,
	bucket *clusterdef.Bucket,
) error {
	mgmt, err := p.nodes.MgmtForNode(ctx, primary)
	if err != nil {
		return err
	}

	existing, err := cbhttpx.OrchestrateRetries(ctx, p.retries,
		func() (*cbmgmtx.BucketDef, error) {
			return mgmt.GetBucket(ctx, &cbmgmtx.GetBucketOptions{
				BucketName: bucket.Name,
			})
		})
	if err == nil {
		p.logger.Info("bucket already exists, leaving it untouched",
			zap.String("bucket", bucket.Name),
			zap.String("bucketUuid", existing.BucketUUID))
		return nil
	} else if !errors.Is(err, cbmgmtx.ErrBucketNotFound) {
		return fmt.Errorf("checking bucket %s failed: %w", bucket.Name, err)
	}

	settings, err := bucketSettingsFromDef(bucket)
	if err != nil {
		return err
	}

	p.logger.Info("creating bucket",
		zap.String("bucket", bucket.Name),
		zap.String("bucketType", string(settings.BucketType)),
		zap.Uint64("ramQuotaMb", settings.RAMQuotaMB))

	err = cbhttpx.OrchestrateNoResponseRetries(ctx, p.retries, func() error {
		return mgmt.CreateBucket(ctx, &cbmgmtx.CreateBucketOptions{
			BucketName:     bucket.Name,
			BucketSettings: settings,
		})
	})
	if err != nil {
		if errors.Is(err, cbmgmtx.ErrBucketExists) {
			// a retried create that succeeded server-side before we saw the
			// response surfaces as already-exists on the extra attempt
			p.logger.Info("bucket appeared while creating it",
				zap.String("bucket", bucket.Name))
		} else {
			return fmt.Errorf("creating bucket %s failed: %w", bucket.Name, err)
		}
	}

	err = p.awaitBucketHealthy(ctx, mgmt, bucket.Name)
	if err != nil {
		return err
	}

	err = p.ensureScopes(ctx, mgmt, bucket)
	if err != nil {
		return err
	}

	provisionedBuckets.Add(ctx, 1)

	p.logger.Info("bucket is provisioned and healthy",
		zap.String("bucket", bucket.Name))

	return nil
}

// awaitBucketHealthy polls the bucket status until every node serving it
// reports healthy.  A create returns before the config reaches every node,
// so a not-found right after one just means we poll again.
func (p *BucketProvisioner) awaitBucketHealthy(
	ctx context.Context,
	mgmt cbmgmtx.Management,
	bucketName string,
) error {
	for {
		def, err := cbhttpx.OrchestrateRetries(ctx, p.retries,
			func() (*cbmgmtx.BucketDef, error) {
				return mgmt.GetBucket(ctx, &cbmgmtx.GetBucketOptions{
					BucketName: bucketName,
				})
			})
		if err != nil {
			if !errors.Is(err, cbmgmtx.ErrBucketNotFound) {
				return fmt.Errorf("checking health of bucket %s failed: %w", bucketName, err)
			}
		} else if def.AllNodesHealthy() {
			p.logger.Debug("bucket reports all nodes healthy",
				zap.String("bucket", bucketName))
			return nil
		} else {
			p.logger.Debug("bucket is not healthy yet",
				zap.String("bucket", bucketName),
				zap.Strings("nodeStatuses", def.NodeStatuses))
		}

		select {
		case <-time.After(p.healthPollPeriod):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ensureScopes brings the collection manifest up to the declared scopes and
// collections.  Entries already present are kept as they are; only missing
// ones are created.
func (p *BucketProvisioner) ensureScopes(
	ctx context.Context,
	mgmt cbmgmtx.Management,
	bucket *clusterdef.Bucket,
) error {
	if len(bucket.Scopes) == 0 {
		return nil
	}

	manifest, err := cbhttpx.OrchestrateRetries(ctx, p.retries,
		func() (*cbmgmtx.CollectionManifestJson, error) {
			return mgmt.GetCollectionManifest(ctx, &cbmgmtx.GetCollectionManifestOptions{
				BucketName: bucket.Name,
			})
		})
	if err != nil {
		return fmt.Errorf("fetching collection manifest of bucket %s failed: %w",
			bucket.Name, err)
	}

	existingScopes := make(map[string][]cbmgmtx.CollectionManifestCollectionJson)
	for _, scope := range manifest.Scopes {
		existingScopes[scope.Name] = scope.Collections
	}

	for _, scope := range bucket.Scopes {
		existingColls, scopeExists := existingScopes[scope.Name]
		if !scopeExists {
			p.logger.Info("creating scope",
				zap.String("bucket", bucket.Name),
				zap.String("scope", scope.Name))

			err := cbhttpx.OrchestrateNoResponseRetries(ctx, p.retries, func() error {
				return mgmt.CreateScope(ctx, &cbmgmtx.CreateScopeOptions{
					BucketName: bucket.Name,
					ScopeName:  scope.Name,
				})
			})
			if err != nil && !errors.Is(err, cbmgmtx.ErrScopeExists) {
				return fmt.Errorf("creating scope %s on bucket %s failed: %w",
					scope.Name, bucket.Name, err)
			}
		}

		for _, coll := range scope.Collections {
			collName := coll.Name
			alreadyThere := slices.ContainsFunc(existingColls,
				func(c cbmgmtx.CollectionManifestCollectionJson) bool {
					return c.Name == collName
				})
			if alreadyThere {
				continue
			}

			p.logger.Info("creating collection",
				zap.String("bucket", bucket.Name),
				zap.String("scope", scope.Name),
				zap.String("collection", coll.Name))

			err := cbhttpx.OrchestrateNoResponseRetries(ctx, p.retries, func() error {
				return mgmt.CreateCollection(ctx, &cbmgmtx.CreateCollectionOptions{
					BucketName:     bucket.Name,
					ScopeName:      scope.Name,
					CollectionName: coll.Name,
					MaxTTL:         coll.MaxTTLSecs,
				})
			})
			if err != nil && !errors.Is(err, cbmgmtx.ErrCollectionExists) {
				return fmt.Errorf("creating collection %s.%s on bucket %s failed: %w",
					scope.Name, coll.Name, bucket.Name, err)
			}
		}
	}

	return nil
}

// EnsureSampleBucket loads one of the server's sample datasets.  The install
// endpoint hands back task ids; the load is complete once those ids no
// longer appear in the cluster task list, which is the only completion
// signal the server exposes.
func (p *BucketProvisioner) EnsureSampleBucket(
	ctx context.Context,
	primary *clusterdef.ServerNode,
	sample *clusterdef.SampleBucket,
) error {
	mgmt, err := p.nodes.MgmtForNode(ctx, primary)
	if err != nil {
		return err
	}

	existing, err := cbhttpx.OrchestrateRetries(ctx, p.retries,
		func() (*cbmgmtx.BucketDef, error) {
			return mgmt.GetBucket(ctx, &cbmgmtx.GetBucketOptions{
				BucketName: sample.Name,
			})
		})
	if err == nil {
		p.logger.Info("sample bucket already exists, leaving it untouched",
			zap.String("bucket", sample.Name),
			zap.String("bucketUuid", existing.BucketUUID))
		return nil
	} else if !errors.Is(err, cbmgmtx.ErrBucketNotFound) {
		return fmt.Errorf("checking sample bucket %s failed: %w", sample.Name, err)
	}

	p.logger.Info("installing sample bucket",
		zap.String("bucket", sample.Name))

	resp, err := cbhttpx.OrchestrateRetries(ctx, p.retries,
		func() (*cbmgmtx.InstallSampleBucketResponse, error) {
			return mgmt.InstallSampleBucket(ctx, &cbmgmtx.InstallSampleBucketOptions{
				SampleBuckets: []string{sample.Name},
			})
		})
	if err != nil {
		return fmt.Errorf("installing sample bucket %s failed: %w", sample.Name, err)
	}

	taskIds := make([]string, 0, len(resp.Tasks))
	for _, task := range resp.Tasks {
		if task.TaskId != "" {
			taskIds = append(taskIds, task.TaskId)
		}
	}

	// older servers complete the load synchronously and return no task ids
	if len(taskIds) > 0 {
		err = p.awaitTasksGone(ctx, mgmt, taskIds)
		if err != nil {
			return fmt.Errorf("waiting for sample bucket %s to load failed: %w",
				sample.Name, err)
		}
	}

	provisionedBuckets.Add(ctx, 1)

	p.logger.Info("sample bucket is loaded",
		zap.String("bucket", sample.Name))

	return nil
}

// awaitTasksGone polls the cluster task list until none of the given ids
// appear in it any more.
func (p *BucketProvisioner) awaitTasksGone(
	ctx context.Context,
	mgmt cbmgmtx.Management,
	taskIds []string,
) error {
	for {
		tasks, err := cbhttpx.OrchestrateRetries(ctx, p.retries,
			func() ([]cbmgmtx.TaskJson, error) {
				return mgmt.ListTasks(ctx, &cbmgmtx.ListTasksOptions{})
			})
		if err != nil {
			return err
		}

		stillRunning := false
		for _, task := range tasks {
			if slices.Contains(taskIds, task.TaskId) {
				stillRunning = true
				break
			}
		}

		if !stillRunning {
			return nil
		}

		p.logger.Debug("sample load tasks are still running",
			zap.Strings("taskIds", taskIds))

		select {
		case <-time.After(p.taskPollPeriod):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FlushBucket empties the named bucket and waits for it to settle back to
// healthy.  Flush has to be enabled on the bucket or the server refuses.
func (p *BucketProvisioner) FlushBucket(
	ctx context.Context,
	primary *clusterdef.ServerNode,
	bucketName string,
) error {
	mgmt, err := p.nodes.MgmtForNode(ctx, primary)
	if err != nil {
		return err
	}

	p.logger.Info("flushing bucket",
		zap.String("bucket", bucketName))

	err = cbhttpx.OrchestrateNoResponseRetries(ctx, p.retries, func() error {
		return mgmt.FlushBucket(ctx, &cbmgmtx.FlushBucketOptions{
			BucketName: bucketName,
		})
	})
	if err != nil {
		return fmt.Errorf("flushing bucket %s failed: %w", bucketName, err)
	}

	err = p.awaitBucketHealthy(ctx, mgmt, bucketName)
	if err != nil {
		return err
	}

	p.logger.Info("bucket flush completed",
		zap.String("bucket", bucketName))

	return nil
}
