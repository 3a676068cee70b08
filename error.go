package jsonrpc2

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kanreisa/jsonrpc2-ws/code"
)

// Error is the concrete type of errors returned from RPC calls.  It is also
// the wire format of the JSON-RPC 2.0 error object.
type Error struct {
	Code    code.Code       `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error renders e to a human-readable string for the error interface.
func (e Error) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode trivially satisfies the code.Coder interface.
func (e Error) ErrCode() code.Code { return e.Code }

// HasData reports whether e has error data to unmarshal.
func (e Error) HasData() bool { return len(e.Data) != 0 }

// UnmarshalData decodes the error data associated with e into v.  It returns
// ErrNoData without modifying v if there was no data message attached to e.
func (e Error) UnmarshalData(v any) error {
	if !e.HasData() {
		return ErrNoData
	}
	return json.Unmarshal(e.Data, v)
}

// WithData marshals v as JSON and constructs a copy of e whose Data field
// includes the result. If v == nil or if marshaling v fails, e is returned
// without modification.
func (e *Error) WithData(v any) *Error {
	if v == nil {
		return e
	} else if data, err := json.Marshal(v); err == nil {
		return &Error{Code: e.Code, Message: e.Message, Data: data}
	}
	return e
}

// Errorf returns an error value of concrete type *Error having the specified
// code and formatted message string.
func Errorf(c code.Code, msg string, args ...any) *Error {
	return &Error{Code: c, Message: fmt.Sprintf(msg, args...)}
}

// makeError returns an *Error for c carrying the default message for that
// code. If data != "" it is attached as a JSON string.
func makeError(c code.Code, data string) *Error {
	e := &Error{Code: c, Message: c.String()}
	if data != "" {
		e.Data, _ = json.Marshal(data)
	}
	return e
}

// errorToMessage converts an error reported by a handler into the error
// object sent back to the caller. A value of concrete type *Error passes
// through unaltered. An error tagged with a code.Coder keeps its code and
// message. Any other error is reported as a generic server error whose data
// carry the original message text.
func errorToMessage(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch c := code.FromError(err); c {
	case code.SystemError:
		return makeError(code.ServerError, err.Error())
	default:
		return &Error{Code: c, Message: err.Error()}
	}
}

// ErrNoData indicates that there are no data to unmarshal.
var ErrNoData = errors.New("no data to unmarshal")

// ErrServerClosed is reported by operations on a server whose Close method
// has already been called.
var ErrServerClosed = errors.New("the server has been closed")

// ErrClientClosed is reported by calls on a client that has already been
// disconnected.
var ErrClientClosed = errors.New("the client has been closed")

// ErrNotConnected is reported by calls and notifications issued while the
// client has no usable connection and outbound buffering is disabled.
var ErrNotConnected = errors.New("rejected: not connected")

// ErrDisconnected is the rejection reported to pending calls when the
// connection is torn down without a response.
var ErrDisconnected = errors.New("rejected: disconnected")

// ErrCallTimeout is the rejection reported to a pending call whose response
// did not arrive within the configured call timeout.
var ErrCallTimeout = errors.New("method call timeout")

// ErrNotOpen is reported by session sends after the underlying connection has
// been closed or terminated.
var ErrNotOpen = errors.New("session is not open")

// ErrBufferFull is reported when the client's outbound buffer has no room for
// another frame.
var ErrBufferFull = errors.New("outbound buffer is full")

// ErrReconnectFailed is the terminal state of a client that exhausted its
// reconnection attempts without reestablishing a connection.
var ErrReconnectFailed = errors.New("reconnection failed")
