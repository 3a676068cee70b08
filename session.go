package jsonrpc2

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kanreisa/jsonrpc2-ws/channel"
)

// Marks a session whose ping is still unanswered.
const pongPending = -1

// A Session is the server side of one connected peer. It owns the socket,
// a stable id, the peer's room memberships, and an arbitrary user-data map.
// Sessions are created by the server on each accepted connection and handed
// to the application through the connection event and SessionFromContext.
//
// All methods are safe for concurrent use.
type Session struct {
	id  string
	srv *Server
	eng *engine

	mu     sync.Mutex
	conn   *websocket.Conn
	ch     channel.Channel
	rooms  mapset.Set[string]
	data   map[string]any
	closed bool

	lastPong atomic.Int64 // unix ms of the last pong, or pongPending

	evClose             signal
	evErrorResponse     event[*Response]
	evNotificationError event[*Error]
}

func newSession(srv *Server, conn *websocket.Conn) *Session {
	s := &Session{
		id:    uuid.NewString(),
		srv:   srv,
		conn:  conn,
		ch:    channel.WebSocket(conn),
		rooms: mapset.New[string](),
	}
	s.eng = &engine{
		methods: &srv.methods,
		check:   srv.check,
		sem:     srv.sem,
		log:     srv.log,
		stats:   serverMetrics,
		hooks: engineHooks{
			send: s.sendFrame,
			response: func(rsp *Response) {
				srv.log("Session %s: discarding response for id %s (no pending call)", s.id, rsp.ID())
			},
			errorResponse: func(rsp *Response) {
				s.evErrorResponse.emit(rsp)
				srv.evErrorResponse.emit(s, rsp)
			},
			notificationError: func(jerr *Error) {
				s.evNotificationError.emit(jerr)
				srv.evNotificationError.emit(s, jerr)
			},
		},
	}
	conn.SetPongHandler(func(string) error {
		s.lastPong.Store(time.Now().UnixMilli())
		return nil
	})
	return s
}

// ID returns the session id, a version 4 UUID fixed for the session's life.
func (s *Session) ID() string { return s.id }

// IsOpen reports whether the underlying socket is still open.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Send writes one frame to the peer, binary or text. It reports ErrNotOpen
// without side effects if the session is no longer open.
func (s *Session) Send(data []byte, binary bool) error {
	return s.sendFrame(channel.Frame{Data: data, Binary: binary})
}

// Notify sends a notification to the peer. Params must encode to a JSON
// array or object, or be nil to omit.
func (s *Session) Notify(method string, params any) error {
	bits, err := marshalParams(params)
	if err != nil {
		return err
	}
	data, err := newRequest(nil, method, bits).toJSON()
	if err != nil {
		return err
	}
	return s.Send(data, false)
}

// JoinTo adds the session to room, reporting whether it was newly added.
func (s *Session) JoinTo(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	added := !s.rooms.Has(room)
	s.rooms.Add(room)
	return added
}

// LeaveFrom removes the session from room, reporting whether it was a member.
func (s *Session) LeaveFrom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	present := s.rooms.Has(room)
	s.rooms.Remove(room)
	return present
}

// LeaveFromAll removes the session from every room it has joined.
func (s *Session) LeaveFromAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms.Clear()
}

// InRoom reports whether the session is currently a member of room.
func (s *Session) InRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.Has(room)
}

// Rooms returns the rooms the session is a member of, sorted by name.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := s.rooms.Slice()
	sort.Strings(rooms)
	return rooms
}

// Set stores a value under key in the session's user-data map.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]any)
	}
	s.data[key] = value
}

// Get returns the value stored under key, and whether one was present.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Delete removes the value stored under key, reporting whether one was
// present.
func (s *Session) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Close starts a polite close handshake with the given close code and
// reason. A zero code means normal closure. The session remains open until
// the peer's close reply arrives or the grace period expires.
func (s *Session) Close(closeCode int, reason string) error {
	if closeCode == 0 {
		closeCode = websocket.CloseNormalClosure
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotOpen
	}
	conn := s.conn
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(closeCode, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		conn.Close()
		return err
	}
	return conn.SetReadDeadline(time.Now().Add(closeGrace))
}

// Terminate drops the connection without a close handshake.
func (s *Session) Terminate() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	conn.Close()
}

// OnClose registers f to run when the session closes for any reason.
// The returned function cancels the registration.
func (s *Session) OnClose(f func()) func() { return s.evClose.listen(f) }

// OnErrorResponse registers f to receive error reports the peer sends about
// messages it could not correlate. The returned function cancels the
// registration.
func (s *Session) OnErrorResponse(f func(*Response)) func() { return s.evErrorResponse.listen(f) }

// OnNotificationError registers f to receive errors the peer reports for
// notifications this side sent. The returned function cancels the
// registration.
func (s *Session) OnNotificationError(f func(*Error)) func() { return s.evNotificationError.listen(f) }

func (s *Session) sendFrame(f channel.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	if err := s.ch.Send(f); err != nil {
		return err
	}
	serverMetrics.Add("bytes_written", int64(len(f.Data)))
	return nil
}

// ping issues a heartbeat ping on the socket.
func (s *Session) ping() error {
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()
	if closed {
		return ErrNotOpen
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// readLoop pulls frames off the socket and hands them to the engine until
// the connection ends, then tears the session down.
func (s *Session) readLoop(ctx context.Context) {
	defer s.cleanup()
	for {
		f, err := s.ch.Recv()
		if err != nil {
			if err != io.EOF {
				s.srv.log("Session %s: read failed: %v", s.id, err)
			}
			return
		}
		serverMetrics.Add("bytes_read", int64(len(f.Data)))
		s.eng.handle(ctx, f)
	}
}

// cleanup runs once when the connection ends: it marks the session closed,
// clears rooms and user data, drops it from the server table, and emits the
// close event.
func (s *Session) cleanup() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.rooms.Clear()
	s.data = nil
	conn := s.conn
	s.mu.Unlock()

	conn.Close()
	s.srv.dropSession(s)
	sessionsActiveGauge.Add(-1)
	s.evClose.emit()
}
