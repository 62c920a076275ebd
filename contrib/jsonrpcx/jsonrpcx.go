// Package jsonrpcx implements the small slice of JSON-RPC 2.0 the infra
// event feed speaks: framed requests and responses over a stream
// connection, with positional parameters.
package jsonrpcx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const ProtoVersion = "2.0"

// RequestId carries whatever id value the peer chose; the protocol allows
// both numbers and strings.
type RequestId interface{}

type Request struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      RequestId       `json:"id"`
}

type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type Response struct {
	Version string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	ID      RequestId       `json:"id"`
}

// Conn frames JSON-RPC messages over a single stream connection.  Reads
// and writes are independently single-threaded.
type Conn struct {
	raw io.ReadWriteCloser
	dec *json.Decoder
	enc *json.Encoder
}

func NewConn(raw io.ReadWriteCloser) *Conn {
	return &Conn{
		raw: raw,
		dec: json.NewDecoder(raw),
		enc: json.NewEncoder(raw),
	}
}

// stampVersion fills in an unset version and rejects a wrong one.
func stampVersion(version *string) error {
	if *version == "" {
		*version = ProtoVersion
		return nil
	}

	if *version != ProtoVersion {
		return fmt.Errorf("refusing to write a jsonrpc %s message", *version)
	}
	return nil
}

func (c *Conn) WriteRequest(req *Request) error {
	if err := stampVersion(&req.Version); err != nil {
		return err
	}
	return c.enc.Encode(req)
}

func (c *Conn) WriteResponse(resp *Response) error {
	if err := stampVersion(&resp.Version); err != nil {
		return err
	}
	return c.enc.Encode(resp)
}

func (c *Conn) ReadRequest(req *Request) error {
	if err := c.dec.Decode(req); err != nil {
		return err
	}

	if req.Version != ProtoVersion {
		return errors.New("peer sent a message with an unsupported jsonrpc version")
	}
	return nil
}

func (c *Conn) ReadResponse(resp *Response) error {
	if err := c.dec.Decode(resp); err != nil {
		return err
	}

	if resp.Version != ProtoVersion {
		return errors.New("peer sent a message with an unsupported jsonrpc version")
	}
	return nil
}

func (c *Conn) Close() error {
	return c.raw.Close()
}
