package cbmgmtx

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

type AutoFailoverSettingsJson struct {
	Enabled  bool   `json:"enabled"`
	Timeout  uint32 `json:"timeout"`
	Count    uint32 `json:"count"`
	MaxCount uint32 `json:"maxCount"`
}

type GetAutoFailoverSettingsOptions struct {
}

func (h Management) GetAutoFailoverSettings(ctx context.Context, opts *GetAutoFailoverSettingsOptions) (*AutoFailoverSettingsJson, error) {
	resp, err := h.Execute(ctx, "GET", "/settings/autoFailover", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	return cbhttpx.ReadAsJsonAndClose[*AutoFailoverSettingsJson](resp.Body)
}

type ConfigureAutoFailoverOptions struct {
	Enabled *bool
	Timeout *uint32
}

// ConfigureAutoFailover updates the cluster auto-failover settings.  Fields
// left nil keep their current server-side value.
func (h Management) ConfigureAutoFailover(ctx context.Context, opts *ConfigureAutoFailoverOptions) error {
	posts := url.Values{}
	if opts.Enabled != nil {
		if *opts.Enabled {
			posts.Add("enabled", "true")
		} else {
			posts.Add("enabled", "false")
		}
	}
	if opts.Timeout != nil {
		posts.Add("timeout", fmt.Sprintf("%d", *opts.Timeout))
	}

	resp, err := h.Execute(ctx, "POST", "/settings/autoFailover",
		"application/x-www-form-urlencoded", strings.NewReader(posts.Encode()))
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.DecodeCommonError(resp)
	}

	_ = resp.Body.Close()
	return nil
}
