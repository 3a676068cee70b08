package jsonrpc2

import "sync"

// event is a minimal typed publish/subscribe hub. Listeners are invoked
// synchronously, in registration order, on the goroutine that emits.
type event[T any] struct {
	mu   sync.Mutex
	subs []eventSub[T]
	next int
}

type eventSub[T any] struct {
	id int
	fn func(T)
}

// listen registers f and returns a function that removes the registration.
// The returned function is safe to call multiple times.
func (e *event[T]) listen(f func(T)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	id := e.next
	e.subs = append(e.subs, eventSub[T]{id: id, fn: f})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				break
			}
		}
	}
}

// emit delivers v to every listener registered at the time of the call. The
// listener list is snapshotted first, so a listener may register or cancel
// listeners without deadlocking.
func (e *event[T]) emit(v T) {
	e.mu.Lock()
	subs := make([]eventSub[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()
	for _, s := range subs {
		s.fn(v)
	}
}

// event2 is an event with a two-value payload.
type event2[A, B any] struct {
	ev event[pair[A, B]]
}

type pair[A, B any] struct {
	fst A
	snd B
}

func (e *event2[A, B]) listen(f func(A, B)) func() {
	return e.ev.listen(func(p pair[A, B]) { f(p.fst, p.snd) })
}

func (e *event2[A, B]) emit(a A, b B) { e.ev.emit(pair[A, B]{a, b}) }

// signal is an event with no payload.
type signal struct {
	ev event[struct{}]
}

func (s *signal) listen(f func()) func() {
	return s.ev.listen(func(struct{}) { f() })
}

func (s *signal) emit() { s.ev.emit(struct{}{}) }
