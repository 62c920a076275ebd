package cbhttpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/url"
)

// ReadAsJsonAndClose decodes the body as JSON and closes it, whether or not
// decoding succeeded.
func ReadAsJsonAndClose[T any](r io.ReadCloser) (T, error) {
	defer func() {
		_ = r.Close()
	}()

	var resp T
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		var empty T
		return empty, err
	}

	return resp, nil
}

func HostFromEndpoint(endpoint string) (string, error) {
	parsedUrl, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}

	hostname, _, _ := net.SplitHostPort(parsedUrl.Host)
	if hostname == "" {
		hostname = parsedUrl.Host
	}

	return hostname, nil
}

// ConfigJsonBlockStreamer decodes ns_server configuration blocks which may
// contain the $HOST placeholder, substituting the host of the endpoint the
// config was fetched from.
type ConfigJsonBlockStreamer[T any] struct {
	Decoder  *json.Decoder
	Endpoint string
}

func (s ConfigJsonBlockStreamer[T]) Recv() (*T, error) {
	var rawBlock json.RawMessage
	err := s.Decoder.Decode(&rawBlock)
	if err != nil {
		return nil, err
	}

	host, err := HostFromEndpoint(s.Endpoint)
	if err != nil {
		return nil, err
	}
	rawBlock = bytes.ReplaceAll(rawBlock, []byte("$HOST"), []byte(host))

	var block T
	err = json.Unmarshal(rawBlock, &block)
	if err != nil {
		return nil, err
	}

	return &block, nil
}
