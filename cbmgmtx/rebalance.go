package cbmgmtx

import (
	"context"
	"errors"
	"strings"

	"github.com/google/go-querystring/query"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

type RebalanceOptions struct {
	KnownNodes   []string `url:"knownNodes,comma,omitempty"`
	EjectedNodes []string `url:"ejectedNodes,comma,omitempty"`
}

// Rebalance starts a rebalance across the given otp nodes.  The server
// performs the rebalance asynchronously; progress must be watched through
// GetRebalanceProgress.
func (h Management) Rebalance(ctx context.Context, opts *RebalanceOptions) error {
	if len(opts.KnownNodes) == 0 {
		return errors.New("must specify the known nodes when starting a rebalance")
	}

	form, err := query.Values(opts)
	if err != nil {
		return err
	}

	resp, err := h.Execute(ctx, "POST", "/controller/rebalance",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.DecodeCommonError(resp)
	}

	_ = resp.Body.Close()
	return nil
}

type RebalanceProgressJson struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// IsRunning indicates whether a rebalance is still in flight.  A status of
// "none" means no rebalance is running, which after starting one means it
// has finished.
func (p RebalanceProgressJson) IsRunning() bool {
	return p.Status != "none"
}

type GetRebalanceProgressOptions struct {
}

func (h Management) GetRebalanceProgress(ctx context.Context, opts *GetRebalanceProgressOptions) (*RebalanceProgressJson, error) {
	resp, err := h.Execute(ctx, "GET", "/pools/default/rebalanceProgress", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	return cbhttpx.ReadAsJsonAndClose[*RebalanceProgressJson](resp.Body)
}

type StopRebalanceOptions struct {
}

func (h Management) StopRebalance(ctx context.Context, opts *StopRebalanceOptions) error {
	resp, err := h.Execute(ctx, "POST", "/controller/stopRebalance", "", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.DecodeCommonError(resp)
	}

	_ = resp.Body.Close()
	return nil
}
