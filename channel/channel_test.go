package channel_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kanreisa/jsonrpc2-ws/channel"
)

func testSendRecv(t *testing.T, s, r channel.Channel, f channel.Frame) {
	t.Helper()
	var wg sync.WaitGroup
	var sendErr, recvErr error
	var got channel.Frame

	wg.Add(2)
	go func() {
		defer wg.Done()
		got, recvErr = r.Recv()
	}()
	go func() {
		defer wg.Done()
		sendErr = s.Send(f)
	}()
	wg.Wait()

	if sendErr != nil {
		t.Errorf("Send(%q): unexpected error: %v", f.Data, sendErr)
	}
	if recvErr != nil {
		t.Errorf("Recv(): unexpected error: %v", recvErr)
	}
	if string(got.Data) != string(f.Data) {
		t.Errorf("Recv():\ngot  %#q\nwant %#q", got.Data, f.Data)
	}
	if got.Binary != f.Binary {
		t.Errorf("Recv(): got binary=%v, want %v", got.Binary, f.Binary)
	}
}

const message1 = `["Full plate and packing steel"]`
const message2 = `{"slogan":"Jump on your sword, evil!"}`

func TestDirect(t *testing.T) {
	lhs, rhs := channel.Direct()
	defer lhs.Close()
	defer rhs.Close()

	testSendRecv(t, lhs, rhs, channel.Frame{Data: []byte(message1)})
	testSendRecv(t, rhs, lhs, channel.Frame{Data: []byte(message2), Binary: true})
}

func TestDirectClosed(t *testing.T) {
	lhs, rhs := channel.Direct()
	defer rhs.Close()
	lhs.Close() // immediately

	if err := lhs.Send(channel.Frame{Data: []byte("nonsense")}); err == nil {
		t.Error("Send on closed channel did not fail")
	} else {
		t.Logf("Send correctly failed: %v", err)
	}
}

// newWebSocketPair establishes a real WebSocket connection through a test
// server and returns channels for both ends, along with the client side's
// underlying connection for control messages.
func newWebSocketPair(t *testing.T) (client, server channel.Channel, cconn *websocket.Conn) {
	t.Helper()
	up := websocket.Upgrader{}
	sch := make(chan channel.Channel, 1)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		sch <- channel.WebSocket(conn)
	}))
	t.Cleanup(hs.Close)

	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial %q: %v", url, err)
	}
	return channel.WebSocket(conn), <-sch, conn
}

func TestWebSocket(t *testing.T) {
	cli, srv, _ := newWebSocketPair(t)
	defer cli.Close()
	defer srv.Close()

	testSendRecv(t, cli, srv, channel.Frame{Data: []byte(message1)})
	testSendRecv(t, srv, cli, channel.Frame{Data: []byte(message2)})
	testSendRecv(t, cli, srv, channel.Frame{Data: []byte("\x01\x02\xfe"), Binary: true})
	testSendRecv(t, srv, cli, channel.Frame{Data: []byte(message1), Binary: true})
}

func TestWebSocketClosed(t *testing.T) {
	cli, srv, _ := newWebSocketPair(t)
	defer srv.Close()

	cli.Close()
	if _, err := cli.Recv(); err == nil {
		t.Error("Recv on closed channel did not fail")
	}
}

func TestWebSocketEOF(t *testing.T) {
	cli, srv, cconn := newWebSocketPair(t)
	defer cli.Close()

	// An orderly close handshake surfaces as io.EOF on the peer.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := cconn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("WriteControl: %v", err)
	}
	if f, err := srv.Recv(); err != io.EOF {
		t.Errorf("Recv: got (%q, %v), want io.EOF", f.Data, err)
	}
}
