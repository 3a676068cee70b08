package jsonrpc2

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/creachadair/mds/mlink"
	"github.com/gorilla/websocket"

	"github.com/kanreisa/jsonrpc2-ws/channel"
	"github.com/kanreisa/jsonrpc2-ws/code"
)

// State identifies the lifecycle state of a client connection.
type State int

const (
	StateIdle         State = iota // constructed, never connected
	StateConnecting                // dial in progress
	StateOpen                      // connection established
	StateReconnecting              // waiting out the backoff delay
	StateClosed                    // disconnected for good
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosed:
		return "Closed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// A Client is a JSON-RPC 2.0 client over WebSocket. The client dials the
// server once Connect is called and keeps the connection alive, redialing
// with exponential backoff when it drops, until Disconnect. Calls issued
// while the connection is down are buffered if a send buffer is configured.
//
// The protocol is symmetric: handlers registered on the client's method
// registry are callable by the server over the same connection.
type Client struct {
	methods MethodSet
	eng     *engine
	pend    *pendingCalls
	log     func(string, ...any)

	wsURL  string
	urlErr error // deferred NewClient URL failure, reported by Connect
	dial   *websocket.Dialer

	reconnect   bool
	maxAttempts int // 0 means no limit
	delay       time.Duration
	delayMax    time.Duration
	jitter      float64
	callTimeout time.Duration
	bufSize     int

	hctx    context.Context // base context for dials and handlers
	hcancel context.CancelFunc

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	ch        channel.Channel
	buf       mlink.Queue[bufEntry]
	nextID    int64
	attempts  int
	stopping  bool // Disconnect has been called
	closeCode int  // close status of the current connection
	closeText string
	err       error // terminal error, reported by Connect

	openOnce sync.Once
	opened   chan struct{} // closed on the first successful open
	wake     chan struct{} // interrupts the backoff sleep
	done     chan struct{} // closed when the client reaches Closed

	evConnecting        signal
	evConnected         signal
	evDisconnect        event2[int, string]
	evClose             signal
	evReconnecting      event[int]
	evReconnectError    event[error]
	evReconnectFailed   signal
	evReconnected       event[int]
	evErrorResponse     event[*Response]
	evNotificationError event[*Error]
	evUnknownResponse   event[*Response]
	evError             event[error]
}

// A bufEntry is one outbound frame awaiting the next open connection.
type bufEntry struct {
	frame channel.Frame
	calls []*pendingCall // calls whose timeout starts when the frame is sent
}

// NewClient constructs a new client for the server at rawurl, which must use
// the ws or wss scheme. The client does not connect until Connect is called.
// Use opts == nil for default settings.
func NewClient(rawurl string, opts *ClientOptions) *Client {
	c := &Client{
		pend:        newPendingCalls(),
		log:         opts.logger(),
		dial:        opts.dialer(),
		reconnect:   opts.reconnection(),
		maxAttempts: opts.reconnectionAttempts(),
		delay:       opts.reconnectionDelay(),
		delayMax:    opts.reconnectionDelayMax(),
		jitter:      opts.reconnectionJitter(),
		callTimeout: opts.methodCallTimeout(),
		bufSize:     opts.sendBuffer(),
		opened:      make(chan struct{}),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	c.wsURL, c.urlErr = mergeQuery(rawurl, opts.query())
	c.hctx, c.hcancel = context.WithCancel(context.Background())
	c.hctx = context.WithValue(c.hctx, clientKey{}, c)
	c.eng = &engine{
		methods:  &c.methods,
		check:    opts.versionCheck(),
		replyAll: true,
		log:      c.log,
		stats:    clientMetrics,
		hooks: engineHooks{
			send:     c.sendFrame,
			response: c.acceptResponse,
			errorResponse: func(rsp *Response) {
				c.evErrorResponse.emit(rsp)
			},
			notificationError: func(jerr *Error) {
				c.evNotificationError.emit(jerr)
			},
		},
	}
	return c
}

// Dial constructs a client for the server at url with the given options and
// connects it, blocking until the connection is open or ctx ends.
func Dial(ctx context.Context, url string, opts *ClientOptions) (*Client, error) {
	c := NewClient(url, opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func mergeQuery(rawurl string, q url.Values) (string, error) {
	if len(q) == 0 {
		return rawurl, nil
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl, err
	}
	merged := u.Query()
	for key, vals := range q {
		for _, v := range vals {
			merged.Add(key, v)
		}
	}
	u.RawQuery = merged.Encode()
	return u.String(), nil
}

// Methods returns the client's method registry, holding the handlers the
// server may invoke over this connection. Handlers may be added or removed
// at any time.
func (c *Client) Methods() *MethodSet { return &c.methods }

// State reports the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the server, blocking until the connection is open, ctx ends,
// or connecting fails for good. Once open, the client maintains the
// connection in the background until Disconnect is called; if it drops and
// reconnection is enabled, Connect keeps blocking through the backoff until
// the first successful open. Connect reports an error if the client was
// already connected.
func (c *Client) Connect(ctx context.Context) error {
	if c.urlErr != nil {
		return c.urlErr
	}
	c.mu.Lock()
	if st := c.state; st != StateIdle {
		c.mu.Unlock()
		if st == StateClosed {
			return ErrClientClosed
		}
		return errors.New("client is already connected")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	go c.run()
	select {
	case <-c.opened:
		return nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err == nil {
			return ErrClientClosed
		}
		return c.err
	case <-ctx.Done():
		c.Disconnect()
		return ctx.Err()
	}
}

// run owns the connection from the first dial to the Closed state.
func (c *Client) run() {
	clientsActiveGauge.Add(1)
	defer func() {
		c.setState(StateClosed)
		clientsActiveGauge.Add(-1)
		close(c.done)
		c.evClose.emit()
	}()

	for {
		c.evConnecting.emit()
		conn, err := c.dialOnce()
		if c.stopped() {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err == nil {
			attempts := c.install(conn)
			if attempts > 0 {
				rpcReconnectsCount.Add(1)
				c.log("Reconnected to %q after %d attempts", c.wsURL, attempts)
				c.evReconnected.emit(attempts)
			} else {
				c.log("Connected to %q", c.wsURL)
				c.evConnected.emit()
			}
			c.openOnce.Do(func() { close(c.opened) })
			c.flush()

			closeCode, closeText := c.readLoop()
			c.detach()
			if c.stopped() {
				c.evDisconnect.emit(closeCode, closeText)
				return
			}
			if !c.reconnect {
				c.pend.rejectAll(ErrDisconnected)
				c.evDisconnect.emit(closeCode, closeText)
				return
			}
		} else {
			c.log("Dial %q failed: %v", c.wsURL, err)
			if c.attemptCount() > 0 {
				c.evReconnectError.emit(err)
			} else {
				c.evError.emit(err)
			}
			if c.stopped() {
				return
			}
			if !c.reconnect {
				c.setErr(err)
				return
			}
		}

		n := c.bumpAttempts()
		if c.maxAttempts > 0 && n > c.maxAttempts {
			c.log("Giving up on %q after %d attempts", c.wsURL, n-1)
			c.pend.rejectAll(ErrDisconnected)
			c.setErr(ErrReconnectFailed)
			c.evReconnectFailed.emit()
			return
		}
		c.setState(StateReconnecting)
		c.evReconnecting.emit(n)
		if !c.sleep(c.backoffDelay(n)) {
			return
		}
		c.setState(StateConnecting)
	}
}

func (c *Client) dialOnce() (*websocket.Conn, error) {
	conn, rsp, err := c.dial.DialContext(c.hctx, c.wsURL, nil)
	if rsp != nil && rsp.Body != nil && err != nil {
		rsp.Body.Close()
	}
	return conn, err
}

// install adopts conn as the active connection and moves the client to Open,
// returning how many reconnection attempts it took.
func (c *Client) install(conn *websocket.Conn) int {
	conn.SetCloseHandler(func(closeCode int, text string) error {
		c.mu.Lock()
		c.closeCode, c.closeText = closeCode, text
		c.mu.Unlock()
		msg := websocket.FormatCloseMessage(closeCode, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return nil
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.ch = channel.WebSocket(conn)
	c.state = StateOpen
	c.closeCode, c.closeText = websocket.CloseAbnormalClosure, ""
	n := c.attempts
	c.attempts = 0
	return n
}

// flush drains the outbound buffer onto the freshly opened connection in
// order, arming the timeout of each buffered call as it reaches the wire.
func (c *Client) flush() {
	var queued []bufEntry
	c.mu.Lock()
	for {
		e, ok := c.buf.Pop()
		if !ok {
			break
		}
		queued = append(queued, e)
	}
	c.mu.Unlock()

	for _, e := range queued {
		if err := c.sendFrame(e.frame); err != nil {
			c.log("Flushing buffered message failed: %v", err)
			for _, p := range e.calls {
				c.pend.reject(p.id, err)
			}
			continue
		}
		for _, p := range e.calls {
			c.pend.arm(p, c.callTimeout)
		}
	}
}

// readLoop dispatches inbound frames until the connection ends, returning
// the close code and reason of the disconnect.
func (c *Client) readLoop() (int, string) {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	for {
		f, err := ch.Recv()
		if err != nil {
			if err != io.EOF {
				c.log("Read failed: %v", err)
				c.evError.emit(err)
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.closeCode, c.closeText
		}
		clientMetrics.Add("bytes_read", int64(len(f.Data)))
		c.eng.handle(c.hctx, f)
	}
}

// detach discards the active connection, leaving pending calls in place for
// a possible reconnect.
func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.ch = nil, nil
}

// Call invokes method on the server and blocks until the response arrives,
// the call times out, ctx ends, or the connection is torn down for good. If
// err != nil then rsp == nil. Errors returned by the server have concrete
// type *Error.
func (c *Client) Call(ctx context.Context, method string, params any) (*Response, error) {
	bits, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id := c.issueID()
	data, err := newRequest(numID(id), method, bits).toJSON()
	if err != nil {
		return nil, err
	}
	rpcCallsCount.Add(1)
	p := c.pend.add(id)
	if err := c.push(data, p); err != nil {
		c.pend.remove(id)
		return nil, err
	}
	rsp, err := c.pend.wait(ctx, p)
	if err != nil {
		return nil, err
	}
	if jerr := rsp.Error(); jerr != nil {
		return nil, jerr
	}
	return rsp, nil
}

// CallResult invokes method on the server and unmarshals a successful result
// into result. It is shorthand for Call followed by UnmarshalResult.
func (c *Client) CallResult(ctx context.Context, method string, params, result any) error {
	rsp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return rsp.UnmarshalResult(result)
}

// Notify sends a notification to the server. Notifications receive no
// response; a non-nil error reports a local delivery failure.
func (c *Client) Notify(_ context.Context, method string, params any) error {
	bits, err := marshalParams(params)
	if err != nil {
		return err
	}
	data, err := newRequest(nil, method, bits).toJSON()
	if err != nil {
		return err
	}
	return c.push(data)
}

// A Spec combines a method name and parameter value for use in Batch. If
// Notify is true, the spec is sent as a notification instead of a request.
type Spec struct {
	Method string
	Params any
	Notify bool
}

// Batch sends the given specs to the server as a single batch frame and
// blocks until every non-notification entry has completed. The responses
// are returned in spec order, omitting notifications; entries that fail
// locally, for example by timeout, are represented as error responses. An
// error is returned only if the batch could not be assembled or sent.
func (c *Client) Batch(ctx context.Context, specs []Spec) ([]*Response, error) {
	if len(specs) == 0 {
		return nil, errors.New("empty batch")
	}
	msgs := make(jmessages, len(specs))
	var ids []int64
	for i, spec := range specs {
		bits, err := marshalParams(spec.Params)
		if err != nil {
			return nil, err
		}
		if spec.Notify {
			msgs[i] = newRequest(nil, spec.Method, bits)
		} else {
			id := c.issueID()
			msgs[i] = newRequest(numID(id), spec.Method, bits)
			ids = append(ids, id)
		}
		msgs[i].batch = true
	}
	data, err := msgs.toJSON()
	if err != nil {
		return nil, err
	}

	calls := make([]*pendingCall, len(ids))
	for i, id := range ids {
		calls[i] = c.pend.add(id)
	}
	rpcCallsCount.Add(int64(len(ids)))
	if err := c.push(data, calls...); err != nil {
		for _, id := range ids {
			c.pend.remove(id)
		}
		return nil, err
	}

	out := make([]*Response, len(calls))
	for i, p := range calls {
		rsp, err := c.pend.wait(ctx, p)
		if err != nil {
			rsp = &Response{
				id:  numID(p.id),
				err: &Error{Code: code.FromError(err), Message: err.Error()},
			}
		}
		out[i] = rsp
	}
	return out, nil
}

// Disconnect closes the connection and stops reconnecting. Pending calls
// fail with ErrDisconnected and buffered messages are dropped. Disconnect is
// idempotent and blocks until the client reaches the Closed state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.state = StateClosed
		c.mu.Unlock()
		c.hcancel()
		close(c.done)
		c.evClose.emit()
		return
	}
	if c.stopping || c.state == StateClosed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.stopping = true
	conn := c.conn
	c.buf.Clear()
	c.mu.Unlock()

	c.hcancel()
	c.pend.rejectAll(ErrDisconnected)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
	}
	<-c.done
}

// Close disconnects the client. It never reports an error; the return value
// satisfies io.Closer.
func (c *Client) Close() error { c.Disconnect(); return nil }

// Wait blocks until the client has reached the Closed state.
func (c *Client) Wait() { <-c.done }

// issueID returns the next unused request id.
func (c *Client) issueID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

func numID(id int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(id, 10))
}

// push writes data immediately when the connection is open. Otherwise, if
// buffering is enabled, the frame is held for the next open; without a
// buffer the push fails with ErrNotConnected. Timeouts for the given calls
// start when the data reaches the wire.
func (c *Client) push(data []byte, calls ...*pendingCall) error {
	c.mu.Lock()
	switch {
	case c.state == StateClosed || c.stopping:
		c.mu.Unlock()
		return ErrClientClosed

	case c.state == StateOpen && c.ch != nil:
		err := c.ch.Send(channel.Frame{Data: data})
		c.mu.Unlock()
		if err != nil {
			return err
		}
		clientMetrics.Add("bytes_written", int64(len(data)))
		for _, p := range calls {
			c.pend.arm(p, c.callTimeout)
		}
		return nil

	case c.bufSize > 0:
		if c.buf.Len() >= c.bufSize {
			c.mu.Unlock()
			return ErrBufferFull
		}
		c.buf.Add(bufEntry{frame: channel.Frame{Data: data}, calls: calls})
		c.mu.Unlock()
		return nil

	default:
		c.mu.Unlock()
		return ErrNotConnected
	}
}

// sendFrame writes one frame on the open connection. It is the engine's
// reply path; unlike push it never buffers.
func (c *Client) sendFrame(f channel.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.ch == nil {
		return ErrNotConnected
	}
	if err := c.ch.Send(f); err != nil {
		return err
	}
	clientMetrics.Add("bytes_written", int64(len(f.Data)))
	return nil
}

// acceptResponse delivers an inbound response to the pending call matching
// its id. Responses that match no pending call are reported as unknown.
func (c *Client) acceptResponse(rsp *Response) {
	id, err := strconv.ParseInt(rsp.ID(), 10, 64)
	if err != nil || !c.pend.resolve(id, rsp) {
		c.log("Discarding response for unknown ID %q", rsp.ID())
		c.evUnknownResponse.emit(rsp)
	}
}

// backoffDelay computes the sleep before reconnection attempt n (1-based).
// The base delay doubles with each attempt up to the maximum; jitter spreads
// the result symmetrically around the base.
func (c *Client) backoffDelay(n int) time.Duration {
	base := c.delay
	for i := 1; i < n && base < c.delayMax; i++ {
		base *= 2
	}
	if base > c.delayMax {
		base = c.delayMax
	}
	if c.jitter > 0 {
		base = time.Duration(float64(base) * (1 + c.jitter*(2*rand.Float64()-1)))
	}
	if base < 0 {
		base = 0
	}
	if base > c.delayMax {
		base = c.delayMax
	}
	return base
}

// sleep pauses for d, returning false if Disconnect intervened.
func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.wake:
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

func (c *Client) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) bumpAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	return c.attempts
}

// OnConnecting registers f to run when a connection attempt begins. The
// returned function cancels the registration.
func (c *Client) OnConnecting(f func()) func() { return c.evConnecting.listen(f) }

// OnConnected registers f to run when the first connection opens. The
// returned function cancels the registration.
func (c *Client) OnConnected(f func()) func() { return c.evConnected.listen(f) }

// OnDisconnect registers f to receive the close code and reason when the
// connection ends for good. The returned function cancels the registration.
func (c *Client) OnDisconnect(f func(closeCode int, reason string)) func() {
	return c.evDisconnect.listen(f)
}

// OnClose registers f to run when the client reaches the Closed state. The
// returned function cancels the registration.
func (c *Client) OnClose(f func()) func() { return c.evClose.listen(f) }

// OnReconnecting registers f to receive the attempt number each time the
// client begins waiting out a reconnection delay. The returned function
// cancels the registration.
func (c *Client) OnReconnecting(f func(attempts int)) func() { return c.evReconnecting.listen(f) }

// OnReconnectError registers f to receive each failed reconnection dial.
// The returned function cancels the registration.
func (c *Client) OnReconnectError(f func(error)) func() { return c.evReconnectError.listen(f) }

// OnReconnectFailed registers f to run when the client exhausts its
// reconnection attempts. The returned function cancels the registration.
func (c *Client) OnReconnectFailed(f func()) func() { return c.evReconnectFailed.listen(f) }

// OnReconnected registers f to receive the attempt count after a successful
// reconnect. The returned function cancels the registration.
func (c *Client) OnReconnected(f func(attempts int)) func() { return c.evReconnected.listen(f) }

// OnErrorResponse registers f to receive error reports the server sends
// about messages it could not correlate. The returned function cancels the
// registration.
func (c *Client) OnErrorResponse(f func(*Response)) func() { return c.evErrorResponse.listen(f) }

// OnNotificationError registers f to receive errors the server reports for
// notifications this client sent. The returned function cancels the
// registration.
func (c *Client) OnNotificationError(f func(*Error)) func() { return c.evNotificationError.listen(f) }

// OnUnknownResponse registers f to receive responses that match no pending
// call. The returned function cancels the registration.
func (c *Client) OnUnknownResponse(f func(*Response)) func() { return c.evUnknownResponse.listen(f) }

// OnError registers f to receive transport errors. The returned function
// cancels the registration.
func (c *Client) OnError(f func(error)) func() { return c.evError.listen(f) }
