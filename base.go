package jsonrpc2

import (
	"encoding/json"
)

// Version is the protocol version string recognized on the wire.
const Version = "2.0"

// A Request is a request or notification received from the remote peer.
type Request struct {
	id     json.RawMessage // the request ID, nil for notifications
	method string          // the name of the method being requested
	params json.RawMessage // method parameters, nil if omitted
}

// IsNotification reports whether the request is a notification, and thus does
// not require a value response.
func (r *Request) IsNotification() bool { return r.id == nil }

// ID returns the request identifier for r as raw JSON text, or "" if r is a
// notification.
func (r *Request) ID() string { return string(r.id) }

// Method reports the method name for the request.
func (r *Request) Method() string { return r.method }

// HasParams reports whether the request has non-empty parameters.
func (r *Request) HasParams() bool { return len(r.params) != 0 }

// UnmarshalParams decodes the request parameters into v. If the request has
// no parameters, v is unmodified and no error is reported.
func (r *Request) UnmarshalParams(v any) error {
	if len(r.params) == 0 {
		return nil
	}
	return json.Unmarshal(r.params, v)
}

// ParamString returns the encoded request parameters of r as a string, or ""
// if r has no parameters.
func (r *Request) ParamString() string { return string(r.params) }

// A Response is a response or error report received from the remote peer.
type Response struct {
	id     json.RawMessage // nil when the response id is null
	err    *Error
	result json.RawMessage
}

// ID returns the request identifier for r as raw JSON text, or "" if the
// response carries a null id.
func (r *Response) ID() string { return string(r.id) }

// Error returns a non-nil *Error if the response contains an error, otherwise
// nil.
func (r *Response) Error() *Error { return r.err }

// UnmarshalResult decodes the result message into v. If the request failed,
// an error is reported with concrete type *Error, and v is unmodified.
func (r *Response) UnmarshalResult(v any) error {
	if r.err != nil {
		return r.err
	}
	return json.Unmarshal(r.result, v)
}

// ResultString returns the encoded result value of r as a string, or "" if
// r has no result.
func (r *Response) ResultString() string { return string(r.result) }
