package channel

import (
	"errors"
	"io"
)

type direct struct {
	send chan<- Frame
	recv <-chan Frame
}

func (d direct) Send(f Frame) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("send on closed channel")
		}
	}()
	cp := make([]byte, len(f.Data))
	copy(cp, f.Data)
	d.send <- Frame{Data: cp, Binary: f.Binary}
	return nil
}

func (d direct) Recv() (Frame, error) {
	f, ok := <-d.recv
	if ok {
		return f, nil
	}
	return Frame{}, io.EOF
}

func (d direct) Close() error { close(d.send); return nil }

// Direct returns a pair of connected channels that pass frames directly in
// memory without encoding. Sends to client will be received by server, and
// vice versa.
func Direct() (client, server Channel) {
	c2s := make(chan Frame)
	s2c := make(chan Frame)
	client = direct{send: c2s, recv: s2c}
	server = direct{send: s2c, recv: c2s}
	return
}
