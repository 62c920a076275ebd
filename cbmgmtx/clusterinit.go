package cbmgmtx

import (
	"context"
	"errors"
	"strings"

	"github.com/google/go-querystring/query"
)

type ClusterInitOptions struct {
	Username    string `url:"username"`
	Password    string `url:"password"`
	ClusterName string `url:"clusterName"`
	Hostname    string `url:"hostname,omitempty"`

	MemoryQuotaMB         uint64 `url:"memoryQuota,omitempty"`
	QueryMemoryQuotaMB    uint64 `url:"queryMemoryQuota,omitempty"`
	IndexMemoryQuotaMB    uint64 `url:"indexMemoryQuota,omitempty"`
	FtsMemoryQuotaMB      uint64 `url:"ftsMemoryQuota,omitempty"`
	CbasMemoryQuotaMB     uint64 `url:"cbasMemoryQuota,omitempty"`
	EventingMemoryQuotaMB uint64 `url:"eventingMemoryQuota,omitempty"`

	// NodeEncryption is "on" or "off" and, like the analytics and eventing
	// quotas, must only be sent to enterprise edition servers.
	NodeEncryption string `url:"nodeEncryption,omitempty"`

	IndexerStorageMode string   `url:"indexerStorageMode,omitempty"`
	Services           []string `url:"services,comma,omitempty"`

	// Port must be the literal "SAME" so the node keeps its configured
	// management port after initialization.
	Port string `url:"port,omitempty"`
}

func (h Management) ClusterInit(ctx context.Context, opts *ClusterInitOptions) error {
	if opts.Username == "" {
		return errors.New("must specify a username for cluster initialization")
	}
	if opts.Password == "" {
		return errors.New("must specify a password for cluster initialization")
	}

	form, err := query.Values(opts)
	if err != nil {
		return err
	}

	resp, err := h.Execute(ctx, "POST", "/clusterInit",
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
