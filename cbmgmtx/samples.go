package cbmgmtx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

type SampleBucketJson struct {
	Name        string `json:"name"`
	Installed   bool   `json:"installed"`
	QuotaNeeded uint64 `json:"quotaNeeded"`
}

type ListSampleBucketsOptions struct {
}

func (h Management) ListSampleBuckets(ctx context.Context, opts *ListSampleBucketsOptions) ([]SampleBucketJson, error) {
	resp, err := h.Execute(ctx, "GET", "/sampleBuckets", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	return cbhttpx.ReadAsJsonAndClose[[]SampleBucketJson](resp.Body)
}

type InstallSampleBucketOptions struct {
	SampleBuckets []string
}

type SampleTaskJson struct {
	TaskId string `json:"taskId"`
}

type InstallSampleBucketResponse struct {
	Tasks []SampleTaskJson `json:"tasks"`
}

// InstallSampleBucket begins loading the named sample datasets.  Loading
// continues asynchronously on the server; the returned task ids can be
// watched via ListTasks to observe completion.
func (h Management) InstallSampleBucket(ctx context.Context, opts *InstallSampleBucketOptions) (*InstallSampleBucketResponse, error) {
	if len(opts.SampleBuckets) == 0 {
		return nil, errors.New("must specify at least one sample bucket to install")
	}

	body, err := json.Marshal(opts.SampleBuckets)
	if err != nil {
		return nil, err
	}

	resp, err := h.Execute(ctx, "POST", "/sampleBuckets/install",
		"application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 && resp.StatusCode != 202 {
		return nil, h.DecodeCommonError(resp)
	}

	return cbhttpx.ReadAsJsonAndClose[*InstallSampleBucketResponse](resp.Body)
}
