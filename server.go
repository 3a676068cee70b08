package jsonrpc2

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// A Server is a JSON-RPC 2.0 server over WebSocket. It accepts connections,
// wraps each in a Session, dispatches inbound calls to the handlers in its
// method registry, and fans outbound notifications out to rooms. Because the
// protocol is symmetric, connected peers may call methods the server
// registers, and the server may notify peers through their sessions.
//
// Use Open to listen on the configured address, or attach the server to an
// existing HTTP mux via ServeHTTP; both may be combined with the same
// Server.
type Server struct {
	methods MethodSet           // associates method names with handlers
	sem     *semaphore.Weighted // bounds concurrent handler execution
	check   VersionCheck
	log     func(string, ...any)
	up      *websocket.Upgrader

	laddr        string
	pingInterval time.Duration
	pingTimeout  time.Duration

	ctx    context.Context // base context for handlers, ends at Close
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	hs       *http.Server
	lst      net.Listener
	opened   bool
	closed   bool
	err      error // first listener error, if any

	lastPing atomic.Int64 // unix ms of the previous heartbeat tick
	hbOnce   sync.Once
	stopHB   chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup // session readers, heartbeat, listener

	evListening         signal
	evConnection        event2[*Session, *http.Request]
	evError             event[error]
	evErrorResponse     event2[*Session, *Response]
	evNotificationError event2[*Session, *Error]
}

// NewServer constructs a new server with the given options. The server does
// not accept connections until Open is called or it is mounted on an HTTP
// server as a handler. Use opts == nil for default settings.
func NewServer(opts *ServerOptions) *Server {
	s := &Server{
		sem:          semaphore.NewWeighted(opts.concurrency()),
		check:        opts.versionCheck(),
		log:          opts.logger(),
		up:           opts.upgrader(),
		laddr:        opts.addr(),
		pingInterval: opts.pingInterval(),
		pingTimeout:  opts.pingTimeout(),
		sessions:     make(map[string]*Session),
		stopHB:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Methods returns the server's method registry. Handlers may be added or
// removed at any time, including while the server is running.
func (s *Server) Methods() *MethodSet { return &s.methods }

// Open starts listening on the configured address. It returns an error if
// the listener could not be created, and panics if the server is already
// open. The server runs until Close.
func (s *Server) Open() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.opened {
		s.mu.Unlock()
		panic("server is already open")
	}
	lst, err := net.Listen("tcp", s.laddr)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.opened = true
	s.lst = lst
	s.hs = &http.Server{Handler: s}
	hs := s.hs
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := hs.Serve(lst); err != nil && err != http.ErrServerClosed {
			s.log("Listener failed: %v", err)
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
			s.evError.emit(err)
		}
	}()
	s.log("Listening at %q", lst.Addr())
	s.evListening.emit()
	return nil
}

// Addr returns the address the server is listening on, or nil if it has no
// listener of its own.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lst == nil {
		return nil
	}
	return s.lst.Addr()
}

// ServeHTTP upgrades the request to a WebSocket connection and serves it as
// a new session. It implements http.Handler so a server can be mounted on
// any mux, with or without its own listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.log("Upgrade failed: %v", err)
		s.evError.emit(err)
		return
	}
	s.accept(conn, r)
}

// accept wraps conn in a session, inserts it into the table, and starts its
// reader.
func (s *Server) accept(conn *websocket.Conn, req *http.Request) {
	sess := newSession(s, conn)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.hbOnce.Do(func() {
		s.wg.Add(1)
		go s.heartbeat()
	})
	sessionsActiveGauge.Add(1)
	sessionsTotalCount.Add(1)
	s.log("Session %s connected from %s", sess.id, conn.RemoteAddr())
	s.evConnection.emit(sess, req)

	ctx := context.WithValue(s.ctx, serverKey{}, s)
	ctx = context.WithValue(ctx, sessionKey{}, sess)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.readLoop(ctx)
	}()
}

func (s *Server) dropSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.id]; ok {
		delete(s.sessions, sess.id)
		s.log("Session %s closed", sess.id)
	}
}

// Sessions returns a snapshot of the connected sessions keyed by id.
func (s *Server) Sessions() map[string]*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Session, len(s.sessions))
	for id, sess := range s.sessions {
		out[id] = sess
	}
	return out
}

// In returns a snapshot of the sessions that are currently members of room,
// keyed by id. The snapshot does not track later joins or leaves.
func (s *Server) In(room string) map[string]*Session {
	out := make(map[string]*Session)
	for id, sess := range s.Sessions() {
		if sess.InRoom(room) {
			out[id] = sess
		}
	}
	return out
}

// Broadcast sends a notification to every connected session. The message is
// encoded once and delivered concurrently. Sessions that close during
// delivery are skipped; the first transport error, if any, is returned after
// all deliveries have been attempted.
func (s *Server) Broadcast(method string, params any) error {
	data, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	return fanout(s.Sessions(), data, false)
}

// NotifyTo sends a notification to the sessions currently in room, under the
// same terms as Broadcast.
func (s *Server) NotifyTo(room, method string, params any) error {
	data, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	return fanout(s.In(room), data, false)
}

// SendTo delivers an arbitrary frame to the sessions currently in room,
// under the same terms as Broadcast.
func (s *Server) SendTo(room string, data []byte, binary bool) error {
	return fanout(s.In(room), data, binary)
}

func encodeNotification(method string, params any) ([]byte, error) {
	bits, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return newRequest(nil, method, bits).toJSON()
}

func fanout(targets map[string]*Session, data []byte, binary bool) error {
	var g errgroup.Group
	for _, sess := range targets {
		sess := sess
		g.Go(func() error {
			if err := sess.Send(data, binary); err != nil && err != ErrNotOpen {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// heartbeat pings every session once per interval and terminates those whose
// previous ping went unanswered within the timeout window.
func (s *Server) heartbeat() {
	defer s.wg.Done()
	s.lastPing.Store(time.Now().UnixMilli())
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopHB:
			return
		case <-t.C:
		}
		deadline := s.lastPing.Load() + s.pingTimeout.Milliseconds()
		now := time.Now().UnixMilli()
		for _, sess := range s.Sessions() {
			last := sess.lastPong.Load()
			if last == pongPending || last > deadline {
				s.log("Session %s: no pong within %v, terminating", sess.id, s.pingTimeout)
				sess.Terminate()
				continue
			}
			sess.lastPong.Store(pongPending)
			if err := sess.ping(); err != nil && err != ErrNotOpen {
				s.log("Session %s: ping failed: %v", sess.id, err)
			}
		}
		s.lastPing.Store(now)
	}
}

// Close stops the heartbeat and the listener, terminates every session, and
// empties the session table. It is idempotent; later calls wait for the
// first to finish and report the same outcome.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return s.err
	}
	s.closed = true
	close(s.stopHB)
	hs := s.hs
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	s.cancel()
	for _, sess := range sessions {
		sess.Terminate()
	}
	if hs != nil {
		hs.Close()
	}
	s.wg.Wait()
	s.log("Server closed")

	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	close(s.done)
	return err
}

// Wait blocks until the server has been closed. It returns the first error
// observed from the listener, or nil if the server shut down cleanly.
func (s *Server) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnListening registers f to run once the server's own listener is
// accepting connections. The returned function cancels the registration.
func (s *Server) OnListening(f func()) func() { return s.evListening.listen(f) }

// OnConnection registers f to receive each new session together with the
// HTTP request that initiated it. The returned function cancels the
// registration.
func (s *Server) OnConnection(f func(*Session, *http.Request)) func() {
	return s.evConnection.listen(f)
}

// OnError registers f to receive listener and handshake errors. The
// returned function cancels the registration.
func (s *Server) OnError(f func(error)) func() { return s.evError.listen(f) }

// OnErrorResponse registers f to receive error reports peers send about
// messages they could not correlate, along with the reporting session. The
// returned function cancels the registration.
func (s *Server) OnErrorResponse(f func(*Session, *Response)) func() {
	return s.evErrorResponse.listen(f)
}

// OnNotificationError registers f to receive errors peers report for
// notifications this server sent, along with the reporting session. The
// returned function cancels the registration.
func (s *Server) OnNotificationError(f func(*Session, *Error)) func() {
	return s.evNotificationError.listen(f)
}
