package jsonrpcx

import "encoding/json"

// Error codes from the JSON-RPC 2.0 specification, plus the start of the
// implementation-defined range for method failures.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeMethodFailed   = -32000
)

func errorResponse(req *Request, code int, message string, details string) *Response {
	rerr := &Error{
		Code:    code,
		Message: message,
	}
	if details != "" {
		rerr.Data = map[string]string{"details": details}
	}

	return &Response{
		ID:    req.ID,
		Error: rerr,
	}
}

// ProcUnknownMethod reports the method as unknown to the peer, handing the
// decoded call to fn for logging.
func ProcUnknownMethod(req *Request, fn func(method string, params interface{})) *Response {
	var params interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		params = nil
	}
	fn(req.Method, params)

	return errorResponse(req, CodeMethodNotFound, "Method not found", "")
}

// Proc1ArgMethod decodes the single positional parameter, invokes fn and
// encodes its result.  A method error travels back as a failed response
// rather than tearing the connection down.
func Proc1ArgMethod[T0 any, TR any](req *Request, fn func(param0 T0) (TR, error)) *Response {
	var params []json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req, CodeInvalidRequest, "Invalid Request",
			"only positional arguments are supported")
	}

	if len(params) != 1 {
		return errorResponse(req, CodeInvalidParams, "Invalid params",
			"method accepts exactly 1 parameter")
	}

	var param0 T0
	if err := json.Unmarshal(params[0], &param0); err != nil {
		return errorResponse(req, CodeInvalidParams, "Invalid params",
			"failed to parse parameter 0")
	}

	result, err := fn(param0)
	if err != nil {
		return errorResponse(req, CodeMethodFailed, "Request failed", err.Error())
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req, CodeMethodFailed, "Request failed", err.Error())
	}

	return &Response{
		ID:     req.ID,
		Result: resultBytes,
	}
}
