package jsonrpc2

import (
	"context"
	"encoding/json"
	"expvar"

	"golang.org/x/sync/semaphore"

	"github.com/kanreisa/jsonrpc2-ws/channel"
	"github.com/kanreisa/jsonrpc2-ws/code"
)

// engineHooks connect an engine to its endpoint. Replies travel out through
// send; classified inbound responses are surfaced through the remaining
// callbacks, any of which may be nil.
type engineHooks struct {
	send func(channel.Frame) error

	// response receives every inbound response whose id is not null.
	response func(*Response)

	// errorResponse receives inbound error reports, responses carrying a
	// null id and an error object.
	errorResponse func(*Response)

	// notificationError receives the error object of an error report whose
	// code lies outside the parse and invalid-request range, meaning the
	// peer rejected one of our notifications.
	notificationError func(*Error)
}

// An engine decodes inbound frames, validates and classifies each message,
// dispatches calls to the registered handlers, and writes reply frames. Both
// endpoints share it: a server runs one engine per session, a client one for
// its connection.
//
// A server must not answer a defective notification unless the defect is at
// the parse or invalid-request level, since any such reply carries a null id
// and the peer cannot correlate it. A client is itself the only consumer of
// its replies' errors, so it reports every defect. The replyAll flag selects
// between the two policies.
type engine struct {
	methods  *MethodSet
	check    VersionCheck
	replyAll bool
	sem      *semaphore.Weighted // if not nil, bounds concurrent handlers
	log      func(string, ...any)
	stats    *expvar.Map
	hooks    engineHooks
}

// handle processes one inbound frame: a single message or a batch. Calls are
// dispatched in order of appearance and any replies are written back as one
// frame of the same modality as the input.
func (e *engine) handle(ctx context.Context, frame channel.Frame) {
	msgs, batch, err := parseMessages(frame.Data)
	if err != nil {
		e.log("Invalid frame payload: %v", err)
		e.reply(frame, jmessages{newErrorMessage(nil, makeError(code.ParseError, "Invalid JSON"))})
		return
	}
	if batch && len(msgs) == 0 {
		e.reply(frame, jmessages{newErrorMessage(nil, makeError(code.InvalidRequest, "Empty Array"))})
		return
	}

	seen := make(map[string]bool)
	var out jmessages
	for _, msg := range msgs {
		if rsp := e.processOne(ctx, msg, seen); rsp != nil {
			rsp.batch = batch
			out = append(out, rsp)
		}
	}
	if len(out) != 0 {
		e.reply(frame, out)
	}
}

// processOne validates and dispatches a single message, returning the reply
// to deliver for it, or nil if no reply is owed.
func (e *engine) processOne(ctx context.Context, msg *jmessage, seen map[string]bool) *jmessage {
	if !msg.object {
		return newErrorMessage(nil, makeError(code.InvalidRequest, ""))
	}
	if !e.versionOK(msg) {
		return e.callError(msg, makeError(code.InvalidRequest, "Invalid JSON-RPC Version"))
	}
	if msg.isResponse() {
		return e.processResponse(msg)
	}

	// The message is a call: a request if it carries an id key, otherwise a
	// notification.
	if msg.isNotification() {
		e.bump("rpc_notifications", 1)
	} else {
		e.bump("rpc_requests", 1)
	}
	if id := string(fixID(msg.id)); id != "" {
		if seen[id] {
			return e.callError(msg, Errorf(code.InvalidRequest, "duplicate request ID").WithData(id))
		}
		seen[id] = true
	}
	if !msg.hasMethod {
		return e.callError(msg, makeError(code.MethodNotFound, "Method not specified"))
	}
	if !msg.strMethod {
		return e.callError(msg, makeError(code.InvalidRequest, "Invalid type of method name"))
	}
	if msg.method == "" {
		return e.callError(msg, makeError(code.MethodNotFound, "Method not specified"))
	}
	if msg.hasParams && !msg.okParams {
		return e.callError(msg, makeError(code.InvalidRequest, ""))
	}
	h := e.methods.Get(msg.method)
	if h == nil {
		e.log("Request for unknown method %q", msg.method)
		return e.callError(msg, makeError(code.MethodNotFound, ""))
	}
	return e.invoke(ctx, h, msg)
}

// processResponse routes an inbound response. Responses with a usable id go
// to the endpoint's call tracking; a null id marks an error report about a
// message the peer could not correlate. The return value is nil except for
// the degenerate case of a null-id response without a usable error object.
func (e *engine) processResponse(msg *jmessage) *jmessage {
	if fixID(msg.id) != nil {
		if e.hooks.response != nil {
			e.hooks.response(msg.toResponse())
		}
		return nil
	}
	if msg.errObj == nil {
		return newErrorMessage(nil, makeError(code.InvalidRequest, ""))
	}
	if e.hooks.errorResponse != nil {
		e.hooks.errorResponse(msg.toResponse())
	}
	if c := msg.errObj.Code; c != code.ParseError && c != code.InvalidRequest {
		if e.hooks.notificationError != nil {
			e.hooks.notificationError(msg.errObj)
		}
	}
	return nil
}

// callError converts a validation failure on a call into a reply, or nil
// when the policy suppresses replies to defective notifications.
func (e *engine) callError(msg *jmessage, jerr *Error) *jmessage {
	if msg.isNotification() && !e.replyAll {
		if c := jerr.Code; c != code.ParseError && c != code.InvalidRequest {
			return nil
		}
	}
	return newErrorMessage(fixID(msg.id), jerr)
}

// invoke runs the handler for msg and converts its outcome into a reply.
// Notifications never produce one; their errors are logged and discarded.
func (e *engine) invoke(ctx context.Context, h Handler, msg *jmessage) *jmessage {
	req := msg.toRequest()
	ctx = context.WithValue(ctx, inboundRequestKey{}, req)
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			if msg.isNotification() {
				return nil
			}
			return newErrorMessage(fixID(msg.id), errorToMessage(err))
		}
		defer e.sem.Release(1)
	}

	v, err := h(ctx, req)
	if err != nil {
		if msg.isNotification() {
			e.log("Discarding error from notification to %q: %v", req.Method(), err)
			return nil
		}
		return newErrorMessage(fixID(msg.id), errorToMessage(err))
	}
	if msg.isNotification() {
		return nil
	}
	bits, err := json.Marshal(v)
	if err != nil {
		e.log("Marshaling result for %q failed: %v", req.Method(), err)
		return newErrorMessage(fixID(msg.id), makeError(code.InternalError, err.Error()))
	}
	return newResultMessage(fixID(msg.id), bits)
}

func (e *engine) versionOK(msg *jmessage) bool {
	switch e.check {
	case VersionLoose:
		return !msg.hasVersion || (msg.strVersion && msg.version == Version)
	case VersionIgnore:
		return true
	default:
		return msg.hasVersion && msg.strVersion && msg.version == Version
	}
}

// reply encodes msgs and writes them back on the transport, preserving the
// modality of the frame that elicited them.
func (e *engine) reply(in channel.Frame, msgs jmessages) {
	for _, msg := range msgs {
		if msg.errObj != nil {
			e.bump("rpc_errors", 1)
		}
	}
	bits, err := msgs.toJSON()
	if err != nil {
		e.log("Encoding reply failed: %v", err)
		return
	}
	if err := e.hooks.send(channel.Frame{Data: bits, Binary: in.Binary}); err != nil {
		e.log("Writing reply failed: %v", err)
	}
}

func (e *engine) bump(name string, n int64) {
	if e.stats != nil {
		e.stats.Add(name, n)
	}
}
