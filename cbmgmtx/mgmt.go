package cbmgmtx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
	"github.com/couchbaselabs/cbclusterboot/contrib/cbconfig"
)

type Management struct {
	Transport http.RoundTripper
	UserAgent string
	Endpoint  string
	Auth      cbhttpx.Authenticator
}

func (h Management) NewRequest(
	ctx context.Context,
	method string, path string,
	contentType string, body io.Reader,
) (*http.Request, error) {
	return cbhttpx.RequestBuilder{
		UserAgent: h.UserAgent,
		Endpoint:  h.Endpoint,
		Auth:      h.Auth,
	}.NewRequest(ctx, method, path, contentType, body)
}

func (h Management) Execute(ctx context.Context, method string, path string, contentType string, body io.Reader) (*http.Response, error) {
	ctx, span := tracer.Start(ctx, "mgmt/"+method,
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	if span.IsRecording() {
		host, _ := cbhttpx.HostFromEndpoint(h.Endpoint)
		span.SetAttributes(
			semconv.ServerAddress(host),
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLPath(path))
	}

	req, err := h.NewRequest(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}

	resp, err := cbhttpx.Client{
		Transport: h.Transport,
	}.Do(req)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, cbhttpx.ConnectError{Cause: err}
	}

	return resp, nil
}

func (h Management) readErrorBody(resp *http.Response) []byte {
	bodyBytes, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil
	}
	return bodyBytes
}

func (h Management) decodeCommonErrorBody(statusCode int, bodyBytes []byte) error {
	errText := strings.ToLower(string(bodyBytes))

	var cause error
	if statusCode == 401 || statusCode == 403 {
		cause = ErrAccessDenied
	} else if statusCode == 404 {
		if strings.Contains(errText, "unknown pool") {
			cause = ErrPoolNotInitialized
		} else {
			cause = ErrUnsupportedFeature
		}
	} else if strings.Contains(errText, "already initialized") ||
		strings.Contains(errText, "already provisioned") {
		cause = ErrAlreadyInitialized
	} else if strings.Contains(errText, `"errors"`) {
		cause = parseForInvalidArg(string(bodyBytes))
	} else {
		cause = errors.New("unexpected response status")
	}

	return ServerError{
		Cause:      cause,
		StatusCode: statusCode,
		Body:       bodyBytes,
	}
}

func (h Management) DecodeCommonError(resp *http.Response) error {
	return h.decodeCommonErrorBody(resp.StatusCode, h.readErrorBody(resp))
}

type GetClusterInfoOptions struct {
}

type ClusterInfoJson struct {
	ImplementationVersion string `json:"implementationVersion"`
	IsEnterprise          bool   `json:"isEnterprise"`
	Pools                 []struct {
		Name string `json:"name"`
	} `json:"pools"`
}

// IsInitialized indicates whether the node already belongs to an
// initialized cluster.  An uninitialized node reports an empty pools list.
func (c ClusterInfoJson) IsInitialized() bool {
	return len(c.Pools) > 0
}

func (h Management) GetClusterInfo(ctx context.Context, opts *GetClusterInfoOptions) (*ClusterInfoJson, error) {
	resp, err := h.Execute(ctx, "GET", "/pools", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	info, err := cbhttpx.ReadAsJsonAndClose[*ClusterInfoJson](resp.Body)
	if err != nil {
		return nil, err
	}

	return info, nil
}

type GetClusterConfigOptions struct {
}

func (h Management) GetClusterConfig(ctx context.Context, opts *GetClusterConfigOptions) (*cbconfig.FullClusterConfigJson, error) {
	resp, err := h.Execute(ctx, "GET", "/pools/default", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	config, err := cbhttpx.ConfigJsonBlockStreamer[cbconfig.FullClusterConfigJson]{
		Decoder:  json.NewDecoder(resp.Body),
		Endpoint: h.Endpoint,
	}.Recv()
	_ = resp.Body.Close()
	return config, err
}

type GetTerseClusterConfigOptions struct {
}

func (h Management) GetTerseClusterConfig(ctx context.Context, opts *GetTerseClusterConfigOptions) (*cbconfig.TerseConfigJson, error) {
	resp, err := h.Execute(ctx, "GET", "/pools/default/nodeServices", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	config, err := cbhttpx.ConfigJsonBlockStreamer[cbconfig.TerseConfigJson]{
		Decoder:  json.NewDecoder(resp.Body),
		Endpoint: h.Endpoint,
	}.Recv()
	_ = resp.Body.Close()
	return config, err
}

type GetTerseClusterInfoOptions struct {
}

type TerseClusterInfoJson struct {
	ClusterUUID  string `json:"clusterUUID"`
	Orchestrator string `json:"orchestrator"`
	IsBalanced   bool   `json:"isBalanced"`
}

func (h Management) GetTerseClusterInfo(ctx context.Context, opts *GetTerseClusterInfoOptions) (*TerseClusterInfoJson, error) {
	resp, err := h.Execute(ctx, "GET", "/pools/default/terseClusterInfo", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	return cbhttpx.ReadAsJsonAndClose[*TerseClusterInfoJson](resp.Body)
}

type ListNodesOptions struct {
}

func (h Management) ListNodes(ctx context.Context, opts *ListNodesOptions) ([]cbconfig.FullNodeJson, error) {
	resp, err := h.Execute(ctx, "GET", "/pools/nodes", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	config, err := cbhttpx.ConfigJsonBlockStreamer[cbconfig.FullClusterConfigJson]{
		Decoder:  json.NewDecoder(resp.Body),
		Endpoint: h.Endpoint,
	}.Recv()
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}

	return config.Nodes, nil
}

type GetCollectionManifestOptions struct {
	BucketName string
}

type CollectionManifestCollectionJson struct {
	UID    string `json:"uid"`
	Name   string `json:"name"`
	MaxTTL uint32 `json:"maxTTL,omitempty"`
}

type CollectionManifestScopeJson struct {
	UID         string                             `json:"uid"`
	Name        string                             `json:"name"`
	Collections []CollectionManifestCollectionJson `json:"collections,omitempty"`
}

type CollectionManifestJson struct {
	UID    string                        `json:"uid"`
	Scopes []CollectionManifestScopeJson `json:"scopes,omitempty"`
}

func (h Management) GetCollectionManifest(ctx context.Context, opts *GetCollectionManifestOptions) (*CollectionManifestJson, error) {
	if opts.BucketName == "" {
		return nil, errors.New("must specify bucket name when fetching a collection manifest")
	}

	resp, err := h.Execute(ctx, "GET",
		fmt.Sprintf("/pools/default/buckets/%s/scopes", opts.BucketName), "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	return cbhttpx.ReadAsJsonAndClose[*CollectionManifestJson](resp.Body)
}

func (h Management) decodeCollectionError(resp *http.Response) error {
	bodyBytes := h.readErrorBody(resp)
	errText := strings.ToLower(string(bodyBytes))

	var cause error
	if strings.Contains(errText, "already exists") && strings.Contains(errText, "scope") {
		cause = ErrScopeExists
	} else if strings.Contains(errText, "already exists") && strings.Contains(errText, "collection") {
		cause = ErrCollectionExists
	} else if strings.Contains(errText, "not found") && strings.Contains(errText, "scope") {
		cause = ErrScopeNotFound
	} else if strings.Contains(errText, "not found") && strings.Contains(errText, "collection") {
		cause = ErrCollectionNotFound
	} else if strings.Contains(errText, "not found") && strings.Contains(errText, "bucket") {
		cause = ErrBucketNotFound
	}

	if cause != nil {
		return ServerError{
			Cause:      cause,
			StatusCode: resp.StatusCode,
			Body:       bodyBytes,
		}
	}

	return h.decodeCommonErrorBody(resp.StatusCode, bodyBytes)
}

type CreateScopeOptions struct {
	BucketName string
	ScopeName  string
}

func (h Management) CreateScope(
	ctx context.Context,
	opts *CreateScopeOptions,
) error {
	if opts.BucketName == "" {
		return errors.New("must specify bucket name when creating a scope")
	}
	if opts.ScopeName == "" {
		return errors.New("must specify scope name when creating a scope")
	}

	posts := url.Values{}
	posts.Add("name", opts.ScopeName)

	resp, err := h.Execute(
		ctx,
		"POST",
		fmt.Sprintf("/pools/default/buckets/%s/scopes", opts.BucketName),
		"application/x-www-form-urlencoded", strings.NewReader(posts.Encode()))
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.decodeCollectionError(resp)
	}

	_ = resp.Body.Close()
	return nil
}

type DeleteScopeOptions struct {
	BucketName string
	ScopeName  string
}

func (h Management) DeleteScope(
	ctx context.Context,
	opts *DeleteScopeOptions,
) error {
	if opts.BucketName == "" {
		return errors.New("must specify bucket name when deleting a scope")
	}
	if opts.ScopeName == "" {
		return errors.New("must specify scope name when deleting a scope")
	}

	resp, err := h.Execute(
		ctx,
		"DELETE",
		fmt.Sprintf("/pools/default/buckets/%s/scopes/%s", opts.BucketName, opts.ScopeName),
		"", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.decodeCollectionError(resp)
	}

	_ = resp.Body.Close()
	return nil
}

type CreateCollectionOptions struct {
	BucketName     string
	ScopeName      string
	CollectionName string
	MaxTTL         uint32
}

func (h Management) CreateCollection(
	ctx context.Context,
	opts *CreateCollectionOptions,
) error {
	if opts.BucketName == "" {
		return errors.New("must specify bucket name when creating a collection")
	}
	if opts.ScopeName == "" {
		return errors.New("must specify scope name when creating a collection")
	}
	if opts.CollectionName == "" {
		return errors.New("must specify collection name when creating a collection")
	}

	posts := url.Values{}
	posts.Add("name", opts.CollectionName)
	if opts.MaxTTL > 0 {
		posts.Add("maxTTL", fmt.Sprintf("%d", opts.MaxTTL))
	}

	resp, err := h.Execute(
		ctx,
		"POST",
		fmt.Sprintf("/pools/default/buckets/%s/scopes/%s/collections", opts.BucketName, opts.ScopeName),
		"application/x-www-form-urlencoded", strings.NewReader(posts.Encode()))
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.decodeCollectionError(resp)
	}

	_ = resp.Body.Close()
	return nil
}

type DeleteCollectionOptions struct {
	BucketName     string
	ScopeName      string
	CollectionName string
}

func (h Management) DeleteCollection(
	ctx context.Context,
	opts *DeleteCollectionOptions,
) error {
	if opts.BucketName == "" {
		return errors.New("must specify bucket name when deleting a collection")
	}
	if opts.ScopeName == "" {
		return errors.New("must specify scope name when deleting a collection")
	}
	if opts.CollectionName == "" {
		return errors.New("must specify collection name when deleting a collection")
	}

	resp, err := h.Execute(
		ctx,
		"DELETE",
		fmt.Sprintf("/pools/default/buckets/%s/scopes/%s/collections/%s", opts.BucketName, opts.ScopeName, opts.CollectionName),
		"", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.decodeCollectionError(resp)
	}

	_ = resp.Body.Close()
	return nil
}
