package channel

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// WebSocket adapts an established WebSocket connection to a Channel.  Frames
// correspond one-to-one with WebSocket data messages, and the Binary flag
// selects between text and binary message types.  Control messages (ping,
// pong, close) are handled by the connection itself and never surface as
// frames.
//
// The caller retains ownership of conn for control messages; Close closes the
// underlying connection.
func WebSocket(conn *websocket.Conn) Channel { return ws{conn: conn} }

type ws struct {
	conn *websocket.Conn
}

func (w ws) Send(f Frame) error {
	mtype := websocket.TextMessage
	if f.Binary {
		mtype = websocket.BinaryMessage
	}
	return w.conn.WriteMessage(mtype, f.Data)
}

func (w ws) Recv() (Frame, error) {
	mtype, data, err := w.conn.ReadMessage()
	if err != nil {
		if isClosed(err) {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	return Frame{Data: data, Binary: mtype == websocket.BinaryMessage}, nil
}

func (w ws) Close() error { return w.conn.Close() }

// isClosed reports whether err represents an orderly shutdown of the
// connection, as distinct from a transport failure.
func isClosed(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
