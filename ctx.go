package jsonrpc2

import (
	"context"
)

// InboundRequest returns the inbound request associated with the context
// passed to a Handler, or nil if ctx does not have an inbound request.
//
// This is mainly useful to wrapped handlers that do not have the request as
// an explicit parameter; for direct implementations of the Handler type the
// request value returned by InboundRequest will be the same value as was
// passed explicitly.
func InboundRequest(ctx context.Context) *Request {
	if v := ctx.Value(inboundRequestKey{}); v != nil {
		return v.(*Request)
	}
	return nil
}

type inboundRequestKey struct{}

// SessionFromContext returns the session whose connection delivered the
// request, for handler contexts on a server, or nil otherwise.
//
// It is safe to retain the session and invoke its methods beyond the
// lifetime of the context from which it was extracted.
func SessionFromContext(ctx context.Context) *Session {
	if v := ctx.Value(sessionKey{}); v != nil {
		return v.(*Session)
	}
	return nil
}

type sessionKey struct{}

// ServerFromContext returns the server associated with the context passed to
// a Handler by a *Server, or nil otherwise.
//
// It is safe to retain the server and invoke its methods beyond the lifetime
// of the context from which it was extracted; however, a handler must not
// block on the server's Wait method, as the server will deadlock waiting for
// the handler to return.
func ServerFromContext(ctx context.Context) *Server {
	if v := ctx.Value(serverKey{}); v != nil {
		return v.(*Server)
	}
	return nil
}

type serverKey struct{}

// ClientFromContext returns the client associated with the given context.
// This will be populated on the context passed by a *Client to a handler for
// a server-to-client call or notification.
//
// Such a handler must not block on the client's Disconnect or Wait methods,
// as the disconnect will deadlock waiting for the handler to return. A
// handler that needs to issue new calls through the client must do so from a
// separate goroutine.
func ClientFromContext(ctx context.Context) *Client {
	if v := ctx.Value(clientKey{}); v != nil {
		return v.(*Client)
	}
	return nil
}

type clientKey struct{}
