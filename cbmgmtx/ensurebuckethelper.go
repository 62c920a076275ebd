package cbmgmtx

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

// EnsureBucketHealthHelper polls a set of nodes until every one of them
// reports the bucket with all of its nodes healthy.  Endpoints which have
// confirmed stay confirmed, so repeated polls only revisit stragglers.
type EnsureBucketHealthHelper struct {
	Logger    *zap.Logger
	UserAgent string

	BucketName string
	BucketUUID string

	confirmedEndpoints []string
}

type NodeTarget struct {
	Endpoint string
	Username string
	Password string
}

type EnsureBucketHealthPollOptions struct {
	Transport http.RoundTripper
	Targets   []NodeTarget
}

func (e *EnsureBucketHealthHelper) Poll(ctx context.Context, opts *EnsureBucketHealthPollOptions) (bool, error) {
	remaining := 0
	for _, target := range opts.Targets {
		if slices.Contains(e.confirmedEndpoints, target.Endpoint) {
			continue
		}

		healthy, err := e.checkEndpoint(ctx, opts.Transport, target)
		if err != nil {
			return false, err
		}
		if !healthy {
			remaining++
			continue
		}

		e.confirmedEndpoints = append(e.confirmedEndpoints, target.Endpoint)
	}

	return remaining == 0, nil
}

func (e *EnsureBucketHealthHelper) checkEndpoint(
	ctx context.Context,
	transport http.RoundTripper,
	target NodeTarget,
) (bool, error) {
	def, err := Management{
		Transport: transport,
		UserAgent: e.UserAgent,
		Endpoint:  target.Endpoint,
		Auth: &cbhttpx.BasicAuth{
			Username: target.Username,
			Password: target.Password,
		},
	}.GetBucket(ctx, &GetBucketOptions{
		BucketName: e.BucketName,
	})
	if err != nil {
		// a node which has not heard about the bucket yet is a straggler,
		// not a failure
		if errors.Is(err, ErrBucketNotFound) {
			e.Logger.Debug("endpoint does not know the bucket yet",
				zap.String("endpoint", target.Endpoint))
			return false, nil
		}

		e.Logger.Debug("bucket fetch failed during ensure poll",
			zap.String("endpoint", target.Endpoint),
			zap.Error(err))
		return false, err
	}

	if e.BucketUUID != "" && def.BucketUUID != e.BucketUUID {
		e.Logger.Debug("endpoint reported a different bucket under the same name",
			zap.String("endpoint", target.Endpoint),
			zap.String("gotUuid", def.BucketUUID),
			zap.String("wantedUuid", e.BucketUUID))
		return false, ErrBucketUuidMismatch
	}

	if !def.AllNodesHealthy() {
		e.Logger.Debug("endpoint reports the bucket with unhealthy nodes",
			zap.String("endpoint", target.Endpoint),
			zap.Strings("statuses", def.NodeStatuses))
		return false, nil
	}

	e.Logger.Debug("endpoint confirmed a healthy bucket",
		zap.String("endpoint", target.Endpoint))

	return true, nil
}
