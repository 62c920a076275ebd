package cbhttpx

import (
	"context"
	"io"
	"net/http"
)

// Authenticator applies request authentication.  Management endpoints use
// basic auth; certificate loading sends none.
type Authenticator interface {
	applyToRequest(req *http.Request)
}

type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) applyToRequest(req *http.Request) {
	req.SetBasicAuth(b.Username, b.Password)
}

type RequestBuilder struct {
	UserAgent string
	Endpoint  string
	Auth      Authenticator
}

func (h RequestBuilder) NewRequest(
	ctx context.Context,
	method, path, contentType string,
	body io.Reader,
) (*http.Request, error) {
	uri := h.Endpoint + path
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	if h.Auth != nil {
		h.Auth.applyToRequest(req)
	}

	return req, nil
}
