package cbhttpx

import (
	"errors"
	"net/http"

	"github.com/couchbaselabs/cbclusterboot/contrib/leakcheck"
)

const maxRedirects = 10

// checkRedirect reapplies the Authorization header from the original
// request, since the default client drops it when a redirect crosses
// hosts and ns_server redirects some endpoints between nodes.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if auth := via[0].Header.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	return nil
}

type Client struct {
	Transport http.RoundTripper
}

func (c Client) Do(req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport:     c.Transport,
		CheckRedirect: checkRedirect,
	}

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}

	return leakcheck.WrapHttpResponse(resp), nil
}
