package jsonrpc2

import (
	"context"
	"sync"
	"time"
)

// A pendingCall tracks one outbound call awaiting its response.
type pendingCall struct {
	id   int64
	done chan struct{}

	timer *time.Timer // set when the request reaches the wire

	rsp *Response // valid after done is closed, if err is nil
	err error
}

// pendingCalls indexes the outbound calls of an endpoint by request id.
// Every form of completion routes through the table, so a call completes
// exactly once: whichever of response, timeout, rejection, or cancellation
// arrives first removes the entry and the others find nothing.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[int64]*pendingCall
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[int64]*pendingCall)}
}

// add registers a call record for id.
func (t *pendingCalls) add(id int64) *pendingCall {
	p := &pendingCall{id: id, done: make(chan struct{})}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[id] = p
	return p
}

// arm starts the timeout clock for p. It has no effect if d is zero or p has
// already completed. The clock starts only once the request has actually been
// written, so time spent buffered while disconnected does not count.
func (t *pendingCalls) arm(p *pendingCall, d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[p.id]; !ok {
		return
	}
	p.timer = time.AfterFunc(d, func() { t.reject(p.id, ErrCallTimeout) })
}

// resolve completes the pending call matching id with rsp, reporting whether
// such a call was pending.
func (t *pendingCalls) resolve(id int64, rsp *Response) bool {
	p := t.remove(id)
	if p == nil {
		return false
	}
	p.rsp = rsp
	close(p.done)
	return true
}

// reject completes the pending call for id with err, reporting whether it was
// pending.
func (t *pendingCalls) reject(id int64, err error) bool {
	p := t.remove(id)
	if p == nil {
		return false
	}
	p.err = err
	close(p.done)
	return true
}

// rejectAll completes every pending call with err.
func (t *pendingCalls) rejectAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.calls {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.err = err
		close(p.done)
	}
	t.calls = make(map[int64]*pendingCall)
}

// remove detaches and returns the record for id, or nil if none is pending.
func (t *pendingCalls) remove(id int64) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.calls[id]
	if p != nil {
		delete(t.calls, id)
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	return p
}

// size reports the number of calls still pending.
func (t *pendingCalls) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// wait blocks until p completes or ctx ends. A context end rejects the call,
// unless a response won the race, in which case that outcome is returned.
func (t *pendingCalls) wait(ctx context.Context, p *pendingCall) (*Response, error) {
	select {
	case <-ctx.Done():
		t.reject(p.id, ctx.Err())
		<-p.done
		return p.rsp, p.err
	case <-p.done:
		return p.rsp, p.err
	}
}
