package cbmgmtx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/go-querystring/query"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

func (h Management) decodeAddNodeError(resp *http.Response) error {
	bodyBytes := h.readErrorBody(resp)
	errText := strings.ToLower(string(bodyBytes))

	if strings.Contains(errText, "already part of") {
		return ServerError{
			Cause:      ErrNodeAlreadyJoined,
			StatusCode: resp.StatusCode,
			Body:       bodyBytes,
		}
	}

	return h.decodeCommonErrorBody(resp.StatusCode, bodyBytes)
}

type AddNodeOptions struct {
	Hostname string   `url:"hostname"`
	Username string   `url:"user"`
	Password string   `url:"password"`
	Services []string `url:"services,comma,omitempty"`
}

type AddNodeResponse struct {
	OTPNode string `json:"otpNode"`
}

// AddNode joins the node at the given hostname into the cluster this
// endpoint belongs to.  The joined node only begins serving once a
// rebalance has completed.
func (h Management) AddNode(ctx context.Context, opts *AddNodeOptions) (*AddNodeResponse, error) {
	if opts.Hostname == "" {
		return nil, errors.New("must specify a hostname when adding a node")
	}

	form, err := query.Values(opts)
	if err != nil {
		return nil, err
	}

	resp, err := h.Execute(ctx, "POST", "/controller/addNode",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.decodeAddNodeError(resp)
	}

	return cbhttpx.ReadAsJsonAndClose[*AddNodeResponse](resp.Body)
}

type AlternateAddressesExternalOptions struct {
	Hostname string `url:"hostname"`

	MgmtPort          uint16 `url:"mgmt,omitempty"`
	KvPort            uint16 `url:"kv,omitempty"`
	CapiPort          uint16 `url:"capi,omitempty"`
	N1qlPort          uint16 `url:"n1ql,omitempty"`
	FtsPort           uint16 `url:"fts,omitempty"`
	CbasPort          uint16 `url:"cbas,omitempty"`
	EventingPort      uint16 `url:"eventingAdminPort,omitempty"`
	EventingDebugPort uint16 `url:"eventingDebug,omitempty"`
	BackupPort        uint16 `url:"backupAPI,omitempty"`

	MgmtSSLPort     uint16 `url:"mgmtSSL,omitempty"`
	KvSSLPort       uint16 `url:"kvSSL,omitempty"`
	CapiSSLPort     uint16 `url:"capiSSL,omitempty"`
	N1qlSSLPort     uint16 `url:"n1qlSSL,omitempty"`
	FtsSSLPort      uint16 `url:"ftsSSL,omitempty"`
	CbasSSLPort     uint16 `url:"cbasSSL,omitempty"`
	EventingSSLPort uint16 `url:"eventingSSL,omitempty"`
	BackupSSLPort   uint16 `url:"backupAPIHTTPS,omitempty"`
}

// SetupAlternateAddressesExternal publishes an external address mapping for
// the node this endpoint belongs to.  Clients outside the cluster network
// discover these through the nodeServices config.
func (h Management) SetupAlternateAddressesExternal(ctx context.Context, opts *AlternateAddressesExternalOptions) error {
	if opts.Hostname == "" {
		return errors.New("must specify a hostname when configuring alternate addresses")
	}

	form, err := query.Values(opts)
	if err != nil {
		return err
	}

	resp, err := h.Execute(ctx, "PUT", "/node/controller/setupAlternateAddresses/external",
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

type DeleteAlternateAddressesExternalOptions struct {
}

func (h Management) DeleteAlternateAddressesExternal(ctx context.Context, opts *DeleteAlternateAddressesExternalOptions) error {
	resp, err := h.Execute(ctx, "DELETE", "/node/controller/setupAlternateAddresses/external", "", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.DecodeCommonError(resp)
	}

	_ = resp.Body.Close()
	return nil
}
