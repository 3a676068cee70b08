// Package channel defines the message transport used by the jsonrpc2 package.
//
// A Channel carries complete WebSocket data messages between the peers of a
// connection. Each message is a Frame, pairing the payload bytes with the
// message type (text or binary) so that replies can be sent in the same
// encoding the request arrived in.
package channel

// A Frame is a single data message together with its wire encoding.  The zero
// Binary value denotes a text message.
type Frame struct {
	Data   []byte // the message payload
	Binary bool   // whether the message is (or should be) sent as binary
}

// A Channel represents the ability to transmit and receive data frames.  A
// channel does not interpret the contents of a frame.  The methods of a
// Channel need not be safe for concurrent use.
type Channel interface {
	// Send transmits a frame on the channel.
	Send(Frame) error

	// Recv returns the next available frame from the channel.  If no further
	// frames are available, it returns io.EOF.
	Recv() (Frame, error)

	// Close shuts down the channel, after which no further frames may be
	// sent or received.
	Close() error
}
