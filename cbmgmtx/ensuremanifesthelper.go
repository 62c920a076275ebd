package cbmgmtx

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

// EnsureManifestHelper polls a set of nodes until every one of them reports
// a collection manifest at least as new as the wanted uid.  Endpoints which
// have confirmed stay confirmed, so repeated polls only revisit stragglers.
type EnsureManifestHelper struct {
	Logger    *zap.Logger
	UserAgent string

	BucketName    string
	CollectionUid uint64

	confirmedEndpoints []string
}

type EnsureManifestPollOptions struct {
	Transport http.RoundTripper
	Targets   []NodeTarget
}

func (e *EnsureManifestHelper) Poll(ctx context.Context, opts *EnsureManifestPollOptions) (bool, error) {
	remaining := 0
	for _, target := range opts.Targets {
		if slices.Contains(e.confirmedEndpoints, target.Endpoint) {
			continue
		}

		upToDate, err := e.checkEndpoint(ctx, opts.Transport, target)
		if err != nil {
			return false, err
		}
		if !upToDate {
			remaining++
			continue
		}

		e.confirmedEndpoints = append(e.confirmedEndpoints, target.Endpoint)
	}

	return remaining == 0, nil
}

func (e *EnsureManifestHelper) checkEndpoint(
	ctx context.Context,
	transport http.RoundTripper,
	target NodeTarget,
) (bool, error) {
	manifest, err := Management{
		Transport: transport,
		UserAgent: e.UserAgent,
		Endpoint:  target.Endpoint,
		Auth: &cbhttpx.BasicAuth{
			Username: target.Username,
			Password: target.Password,
		},
	}.GetCollectionManifest(ctx, &GetCollectionManifestOptions{
		BucketName: e.BucketName,
	})
	if err != nil {
		e.Logger.Debug("manifest fetch failed during ensure poll",
			zap.String("endpoint", target.Endpoint),
			zap.Error(err))
		return false, err
	}

	// manifest uids are hex encoded on the wire
	manifestUid, _ := strconv.ParseUint(manifest.UID, 16, 64)
	if manifestUid < e.CollectionUid {
		e.Logger.Debug("endpoint has not caught up to the wanted manifest",
			zap.String("endpoint", target.Endpoint),
			zap.Uint64("manifestUid", manifestUid),
			zap.Uint64("wantedUid", e.CollectionUid))
		return false, nil
	}

	e.Logger.Debug("endpoint confirmed the wanted manifest",
		zap.String("endpoint", target.Endpoint),
		zap.Uint64("manifestUid", manifestUid))

	return true, nil
}
