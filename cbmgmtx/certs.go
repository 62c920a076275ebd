package cbmgmtx

import (
	"context"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

type TrustedCAJson struct {
	ID      int    `json:"id"`
	Subject string `json:"subject"`
	Type    string `json:"type"`
	Pem     string `json:"pem"`
}

type GetTrustedCAsOptions struct {
}

func (h Management) GetTrustedCAs(ctx context.Context, opts *GetTrustedCAsOptions) ([]TrustedCAJson, error) {
	resp, err := h.Execute(ctx, "GET", "/pools/default/trustedCAs", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	return cbhttpx.ReadAsJsonAndClose[[]TrustedCAJson](resp.Body)
}

type LoadTrustedCAsOptions struct {
}

// LoadTrustedCAs makes the node pick up CA certificates previously placed
// in its inbox directory.  The endpoint takes no body and, on nodes which
// have not yet been initialized, no credentials either.
func (h Management) LoadTrustedCAs(ctx context.Context, opts *LoadTrustedCAsOptions) error {
	resp, err := h.Execute(ctx, "POST", "/node/controller/loadTrustedCAs", "", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.DecodeCommonError(resp)
	}

	_ = resp.Body.Close()
	return nil
}

type ReloadCertificateOptions struct {
}

// ReloadCertificate makes the node reload its own node certificate from
// the inbox directory.
func (h Management) ReloadCertificate(ctx context.Context, opts *ReloadCertificateOptions) error {
	resp, err := h.Execute(ctx, "POST", "/node/controller/reloadCertificate", "", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.DecodeCommonError(resp)
	}

	_ = resp.Body.Close()
	return nil
}
