/*
Package jsonrpc2 implements a bidirectional JSON-RPC 2.0 framework over
WebSocket, following the protocol defined by
http://www.jsonrpc.org/specification.

Both ends of a connection run the same message engine, so the protocol is
symmetric: either side may register methods, and either side may invoke the
methods of its peer over the same connection. A server additionally manages
sessions, rooms, and a heartbeat; a client additionally maintains its
connection, redialing with backoff when it drops.

# Servers

The *Server type accepts WebSocket connections and dispatches inbound calls
to handlers registered in its method registry. A handler is any function
with the signature

	func(ctx context.Context, req *jsonrpc2.Request) (any, error)

and is registered under a method name:

	srv := jsonrpc2.NewServer(nil) // nil for default options
	srv.Methods().Set("math.add", func(ctx context.Context, req *jsonrpc2.Request) (any, error) {
		var vals []int
		if err := req.UnmarshalParams(&vals); err != nil {
			return nil, err
		}
		sum := 0
		for _, v := range vals {
			sum += v
		}
		return sum, nil
	})

The handler package provides adapters that lift ordinary typed functions
into this signature via reflection. To start serving, either open the
server's own listener:

	if err := srv.Open(); err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

or mount the server on an existing mux, since *Server implements
http.Handler:

	http.Handle("/rpc", srv)

Each accepted connection becomes a *Session with a stable UUID, delivered
through the connection event:

	srv.OnConnection(func(sess *jsonrpc2.Session, req *http.Request) {
		sess.JoinTo("lobby")
	})

Sessions join named rooms, and the server fans notifications out to them:

	srv.Broadcast("system.notice", map[string]string{"text": "hello all"})
	srv.NotifyTo("lobby", "chat.message", map[string]string{"text": "hi"})

Within a handler, the originating session and server are available from the
context:

	sess := jsonrpc2.SessionFromContext(ctx)
	sess.Notify("chat.ack", nil)

# Clients

The *Client type dials a ws or wss URL and keeps the connection alive until
Disconnect is called:

	cli, err := jsonrpc2.Dial(ctx, "ws://localhost:3000", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer cli.Disconnect()

Call invokes a method and blocks for the response:

	rsp, err := cli.Call(ctx, "math.add", []int{1, 3, 5, 7})

Errors returned by the server have concrete type *jsonrpc2.Error. For
convenience, CallResult combines the call with decoding the result:

	var sum int
	if err := cli.CallResult(ctx, "math.add", []int{1, 3, 5, 7}, &sum); err != nil {
		log.Fatal(err)
	}

To issue several requests in one frame, use the Batch method:

	rsps, err := cli.Batch(ctx, []jsonrpc2.Spec{
		{Method: "math.add", Params: []int{1, 2, 3}},
		{Method: "math.mul", Params: []int{4, 5, 6}},
		{Method: "log.event", Params: []string{"done"}, Notify: true},
	})

When the connection drops, the client transitions to the Reconnecting state
and redials with exponential backoff, observable through the OnReconnecting
and OnReconnected events. Calls issued while disconnected are buffered if
ClientOptions.SendBuffer is set, and flushed in order on the next open.

Because the protocol is symmetric, the client carries its own registry for
methods the server may invoke:

	cli.Methods().Set("ping", func(ctx context.Context, req *jsonrpc2.Request) (any, error) {
		return "pong", nil
	})

# Notifications

A notification is a call without an id; the peer never replies to it.

	err := cli.Notify(ctx, "alert", map[string]string{"msg": "a fire is burning"})

A notification is complete once it has been sent. On the receiving side a
notification is dispatched like any other call, except that the handler's
return value, and any error it reports, are discarded. A handler can detect
this case with req.IsNotification.

If a peer rejects a notification, for example because no handler is
registered for it, the rejection comes back as an error report with a null
id. The sending side surfaces such reports through its notification error
event rather than on the wire:

	sess.OnNotificationError(func(jerr *jsonrpc2.Error) {
		log.Printf("notification rejected: %v", jerr)
	})

# Errors

Wire-level errors are represented by the *Error type, carrying a code from
the code package, a message, and optional data. A handler may return an
*Error directly to control all three fields; any other error is reported to
the caller as a server error whose data records the error text.
*/
package jsonrpc2
