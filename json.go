package jsonrpc2

import (
	"bytes"
	"encoding/json"

	"github.com/kanreisa/jsonrpc2-ws/code"
)

// ParseRequests parses a single request or a batch of requests from JSON.
// This function reports an error only if msg is not valid JSON. The caller
// must check the individual results for their validity.
func ParseRequests(msg []byte) ([]*ParsedRequest, error) {
	msgs, _, err := parseMessages(msg)
	if err != nil {
		return nil, err
	}
	out := make([]*ParsedRequest, len(msgs))
	for i, req := range msgs {
		out[i] = &ParsedRequest{
			ID:     string(fixID(req.id)),
			Method: req.method,
			Params: req.params,
			Error:  req.checkRequest(),
		}
	}
	return out, nil
}

// A ParsedRequest is the parsed form of a request message. If a request is
// valid, its Error field is nil. Otherwise, the Error field describes why the
// request is invalid, and the other fields may be incomplete or missing.
type ParsedRequest struct {
	ID     string          // the request ID as raw JSON text, "" if none or null
	Method string          // the method name
	Params json.RawMessage // the encoded parameters, nil if none
	Error  *Error          // nil if the request is valid
}

// ToRequest converts p to an equivalent Request. If p.Error is not nil,
// ToRequest returns nil.
//
// This method does not check validity. If p is from a successful call of
// ParseRequests, the result will be valid; otherwise the caller must ensure
// that the ID and parameters are valid JSON.
func (p *ParsedRequest) ToRequest() *Request {
	if p == nil || p.Error != nil {
		return nil
	}
	var id json.RawMessage
	if p.ID != "" {
		id = json.RawMessage(p.ID)
	}
	return &Request{id: id, method: p.Method, params: p.Params}
}

// checkRequest reports the first structural defect that prevents j from
// serving as a call, or nil if j is a well formed request or notification.
// The version marker is held to the strict rule.
func (j *jmessage) checkRequest() *Error {
	switch {
	case !j.object:
		return Errorf(code.InvalidRequest, "request is not a JSON object")
	case !j.hasVersion || !j.strVersion || j.version != Version:
		return makeError(code.InvalidRequest, "Invalid JSON-RPC Version")
	case j.isResponse():
		return Errorf(code.InvalidRequest, "message is not a request")
	case !j.hasMethod || (j.strMethod && j.method == ""):
		return makeError(code.MethodNotFound, "Method not specified")
	case !j.strMethod:
		return makeError(code.InvalidRequest, "Invalid type of method name")
	case j.hasParams && !j.okParams:
		return Errorf(code.InvalidRequest, "parameters must be array or object")
	}
	return nil
}

// jmessages is either a single protocol message or an array of protocol
// messages.  This handles the encoding of batch replies in JSON-RPC 2.0.
type jmessages []*jmessage

func (j jmessages) toJSON() ([]byte, error) {
	if len(j) == 1 && !j[0].batch {
		return j[0].toJSON()
	}
	var sb bytes.Buffer
	sb.WriteByte('[')
	for i, msg := range j {
		if i > 0 {
			sb.WriteByte(',')
		}
		bits, err := msg.toJSON()
		if err != nil {
			return nil, err
		}
		sb.Write(bits)
	}
	sb.WriteByte(']')
	return sb.Bytes(), nil
}

// parseMessages splits a frame payload into its constituent protocol
// messages and reports whether the payload was a batch array. It fails only
// if data is not valid JSON: per-message validity is checked at usage.
func parseMessages(data []byte) (jmessages, bool, error) {
	var msgs []json.RawMessage
	batch := firstByte(data) == '['
	if batch {
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, batch, err
		}
	} else {
		msgs = append(msgs, nil)
		if err := json.Unmarshal(data, &msgs[0]); err != nil {
			return nil, batch, err
		}
	}
	out := make(jmessages, len(msgs))
	for i, raw := range msgs {
		m := new(jmessage)
		m.parseJSON(raw)
		m.batch = batch
		out[i] = m
	}
	return out, batch, nil
}

// jmessage is the transmission format of a single protocol message.
//
// Parsing records which keys were present and whether their values had the
// expected type, but does not reject anything beyond structure: the engine
// decides how each defect is answered, and in what order.
type jmessage struct {
	version string          // the value of "jsonrpc", if it was a string
	id      json.RawMessage // the "id" value, nil if the key was absent
	method  string          // the value of "method", if it was a string
	params  json.RawMessage // the "params" value, nil if absent or null
	result  json.RawMessage // the "result" value
	errObj  *Error          // the decoded "error" value, nil if absent or unusable

	hasVersion bool // the "jsonrpc" key was present
	strVersion bool // the "jsonrpc" value was a string
	hasID      bool // the "id" key was present
	hasMethod  bool // the "method" key was present
	strMethod  bool // the "method" value was a string
	hasParams  bool // the "params" key was present
	okParams   bool // the "params" value was an array, object, or null
	hasResult  bool // the "result" key was present
	hasError   bool // the "error" key was present

	object bool // the message itself was a JSON object
	batch  bool // the message arrived inside a batch array
}

// isResponse classifies j as a response: the "id" key is present together
// with a "result" or "error" key. Everything else is a call.
func (j *jmessage) isResponse() bool { return j.hasID && (j.hasResult || j.hasError) }

// isNotification reports whether j is a call without an "id" key. A call
// whose id is null is not a notification: its reply carries a null id.
func (j *jmessage) isNotification() bool { return !j.isResponse() && !j.hasID }

func (j *jmessage) parseJSON(data []byte) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return // not an object; the engine answers this shape
	}
	j.object = true
	for key, val := range obj {
		switch key {
		case "jsonrpc":
			j.hasVersion = true
			j.strVersion = json.Unmarshal(val, &j.version) == nil
		case "id":
			j.hasID = true
			j.id = val
		case "method":
			j.hasMethod = true
			j.strMethod = json.Unmarshal(val, &j.method) == nil
		case "params":
			// As a special case, reduce "null" to missing parameters.
			// Anything other than an array or object is left for the engine
			// to reject.
			j.hasParams = true
			if isNull(val) {
				j.okParams = true
			} else if fb := firstByte(val); fb == '[' || fb == '{' {
				j.okParams = true
				j.params = val
			}
		case "result":
			j.hasResult = true
			j.result = val
		case "error":
			j.hasError = true
			if !isNull(val) {
				var e Error
				if json.Unmarshal(val, &e) == nil {
					j.errObj = &e
				}
			}
		}
	}
	// Unknown keys are ignored.
}

func (j *jmessage) toJSON() ([]byte, error) {
	var sb bytes.Buffer
	sb.WriteString(`{"jsonrpc":"2.0"`)
	if j.hasResult || j.hasError {
		// Responses always carry an id, null when the request had none.
		sb.WriteString(`,"id":`)
		if len(j.id) == 0 {
			sb.WriteString("null")
		} else {
			sb.Write(j.id)
		}
		if j.errObj != nil {
			e, err := json.Marshal(j.errObj)
			if err != nil {
				return nil, err
			}
			sb.WriteString(`,"error":`)
			sb.Write(e)
		} else {
			sb.WriteString(`,"result":`)
			if len(j.result) == 0 {
				sb.WriteString("null")
			} else {
				sb.Write(j.result)
			}
		}
	} else {
		if len(j.id) != 0 {
			sb.WriteString(`,"id":`)
			sb.Write(j.id)
		}
		m, err := json.Marshal(j.method)
		if err != nil {
			return nil, err
		}
		sb.WriteString(`,"method":`)
		sb.Write(m)
		if len(j.params) != 0 {
			sb.WriteString(`,"params":`)
			sb.Write(j.params)
		}
	}
	sb.WriteByte('}')
	return sb.Bytes(), nil
}

// newRequest constructs a request or notification message. A nil id denotes
// a notification.
func newRequest(id json.RawMessage, method string, params json.RawMessage) *jmessage {
	return &jmessage{
		version: Version, hasVersion: true, strVersion: true,
		id: id, hasID: id != nil,
		method: method, hasMethod: true, strMethod: true,
		params: params, hasParams: params != nil, okParams: true,
	}
}

// newResultMessage constructs a success response for id. A nil or empty
// result is rendered as null.
func newResultMessage(id, result json.RawMessage) *jmessage {
	return &jmessage{
		version: Version, hasVersion: true, strVersion: true,
		id: id, hasID: true,
		result: result, hasResult: true,
	}
}

// newErrorMessage constructs an error response for id. A nil id is rendered
// as null.
func newErrorMessage(id json.RawMessage, err *Error) *jmessage {
	return &jmessage{
		version: Version, hasVersion: true, strVersion: true,
		id: id, hasID: true,
		errObj: err, hasError: true,
	}
}

// toResponse converts j to its public form.
func (j *jmessage) toResponse() *Response {
	return &Response{id: fixID(j.id), err: j.errObj, result: j.result}
}

// toRequest converts j to its public form. The id is preserved as given,
// except that an absent key yields a nil id.
func (j *jmessage) toRequest() *Request {
	var id json.RawMessage
	if j.hasID {
		id = j.id
	}
	return &Request{id: id, method: j.method, params: j.params}
}

// fixID filters id, treating "null" as a synonym for an unset ID.
func fixID(id json.RawMessage) json.RawMessage {
	if !isNull(id) {
		return id
	}
	return nil
}

// isNull reports whether msg is exactly the JSON "null" value.
func isNull(msg json.RawMessage) bool {
	return len(msg) == 4 && msg[0] == 'n' && msg[1] == 'u' && msg[2] == 'l' && msg[3] == 'l'
}

// firstByte returns the first non-whitespace byte of data, or 0 if there is none.
func firstByte(data []byte) byte {
	clean := bytes.TrimSpace(data)
	if len(clean) == 0 {
		return 0
	}
	return clean[0]
}

// marshalParams encodes params for transmission, requiring that the result
// is a JSON array or object per the JSON-RPC 2.0 grammar. A nil or JSON null
// params is omitted from the message.
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	bits, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if isNull(bits) {
		return nil, nil
	}
	if fb := firstByte(bits); fb != '[' && fb != '{' {
		return nil, &Error{Code: code.InvalidRequest, Message: "parameters must be array or object"}
	}
	return bits, nil
}

// StrictFields wraps a value v to require unknown fields to be rejected when
// unmarshaling from JSON.
//
// For example:
//
//	var obj RequestType
//	err := req.UnmarshalParams(jsonrpc2.StrictFields(&obj))
func StrictFields(v any) any { return &strict{v: v} }

type strict struct{ v any }

func (s *strict) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(s.v)
}
