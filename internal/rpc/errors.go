package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ybbus/jsonrpc/v3"
)

// Error is a JSON-RPC error object returned by the vehicle.
type Error struct {
	Method  string
	Code    int
	Message string
	Data    string
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc: %s: remote error %d: %s (%s)", e.Method, e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc: %s: remote error %d: %s", e.Method, e.Code, e.Message)
}

func newError(method string, w *wireError) *Error {
	return &Error{Method: method, Code: w.Code, Message: w.Message, Data: string(w.Data)}
}

func fromRPCError(method string, e *jsonrpc.RPCError) *Error {
	out := &Error{Method: method, Code: e.Code, Message: e.Message}
	if e.Data != nil {
		if data, err := json.Marshal(e.Data); err == nil {
			out.Data = string(data)
		}
	}
	return out
}

// IsRemote reports whether err carries a JSON-RPC error object, as opposed
// to a transport or decoding failure.
func IsRemote(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
