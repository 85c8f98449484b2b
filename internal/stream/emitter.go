// Package stream holds the per-request event channel that carries response frames to an SSE client.
package stream

import (
	"errors"
	"sync"
	"time"
)

// ErrTimeout is reported by Err when the emitter closed because its timeout elapsed.
var ErrTimeout = errors.New("stream timeout")

// Event is one server-sent event. An empty Name means the default "message" event.
type Event struct {
	Name string
	Data any
}

type closeReason int

const (
	open closeReason = iota
	completed
	timedOut
	failed
)

// Emitter keeps the ordered event log of one turn and fans it out to every subscriber. Sends never
// block: a subscriber that attaches late replays the log from the first event. Exactly one of the
// completion, timeout or error callbacks fires, once, when the emitter closes.
type Emitter struct {
	mu     sync.Mutex
	events []Event
	// changed is closed and replaced on every send.
	changed chan struct{}
	done    chan struct{}
	reason  closeReason
	err     error
	timer   *time.Timer

	onCompletion []func()
	onTimeout    []func()
	onError      []func(error)
}

// New returns an open emitter that times out after timeout. A non-positive timeout never expires.
func New(timeout time.Duration) *Emitter {
	e := &Emitter{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, e.expire)
	}
	return e
}

// Empty returns an emitter that is already complete. It serves as the placeholder stream for a
// session that never registered one.
func Empty() *Emitter {
	e := New(0)
	e.Complete()
	return e
}

// Send queues an event. It reports false once the emitter is closed.
func (e *Emitter) Send(ev Event) bool {
	e.mu.Lock()
	if e.reason != open {
		e.mu.Unlock()
		return false
	}
	e.events = append(e.events, ev)
	close(e.changed)
	e.changed = make(chan struct{})
	e.mu.Unlock()
	return true
}

// SendData queues a default event carrying data.
func (e *Emitter) SendData(data any) bool {
	return e.Send(Event{Data: data})
}

// Events returns a copy of every event sent so far.
func (e *Emitter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// Subscription reads the event log of an emitter from the beginning at its own pace. Dropping a
// subscription has no effect on the emitter.
type Subscription struct {
	e   *Emitter
	pos int
}

// Subscribe attaches a new reader positioned at the first event.
func (e *Emitter) Subscribe() *Subscription {
	return &Subscription{e: e}
}

// Next returns the events not yet seen by this subscription, and a channel that is closed when
// more arrive.
func (s *Subscription) Next() ([]Event, <-chan struct{}) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	events := s.e.events[s.pos:len(s.e.events):len(s.e.events)]
	s.pos = len(s.e.events)
	return events, s.e.changed
}

// Done is closed once the emitter is closed for any reason.
func (e *Emitter) Done() <-chan struct{} { return e.done }

func (e *Emitter) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Err is nil after a normal completion, ErrTimeout after a timeout, or the error passed to
// CompleteWithError.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Complete closes the emitter normally. The event log stays readable by subscribers.
func (e *Emitter) Complete() {
	e.close(completed, nil)
}

// CompleteWithError closes the emitter with err.
func (e *Emitter) CompleteWithError(err error) {
	if err == nil {
		err = errors.New("stream closed with unknown error")
	}
	e.close(failed, err)
}

func (e *Emitter) expire() {
	e.close(timedOut, ErrTimeout)
}

func (e *Emitter) close(reason closeReason, err error) {
	e.mu.Lock()
	if e.reason != open {
		e.mu.Unlock()
		return
	}
	e.reason = reason
	e.err = err
	if e.timer != nil {
		e.timer.Stop()
	}
	onCompletion, onTimeout, onError := e.onCompletion, e.onTimeout, e.onError
	e.onCompletion, e.onTimeout, e.onError = nil, nil, nil
	close(e.done)
	e.mu.Unlock()

	switch reason {
	case completed:
		for _, fn := range onCompletion {
			fn()
		}
	case timedOut:
		for _, fn := range onTimeout {
			fn()
		}
	case failed:
		for _, fn := range onError {
			fn(err)
		}
	}
}

// OnCompletion registers fn to run on a normal close. It runs immediately if that already happened.
func (e *Emitter) OnCompletion(fn func()) {
	e.mu.Lock()
	switch e.reason {
	case open:
		e.onCompletion = append(e.onCompletion, fn)
		e.mu.Unlock()
	case completed:
		e.mu.Unlock()
		fn()
	default:
		e.mu.Unlock()
	}
}

// OnTimeout registers fn to run when the timeout elapses.
func (e *Emitter) OnTimeout(fn func()) {
	e.mu.Lock()
	switch e.reason {
	case open:
		e.onTimeout = append(e.onTimeout, fn)
		e.mu.Unlock()
	case timedOut:
		e.mu.Unlock()
		fn()
	default:
		e.mu.Unlock()
	}
}

// OnError registers fn to run when the emitter closes with an error.
func (e *Emitter) OnError(fn func(error)) {
	e.mu.Lock()
	switch e.reason {
	case open:
		e.onError = append(e.onError, fn)
		e.mu.Unlock()
	case failed:
		err := e.err
		e.mu.Unlock()
		fn(err)
	default:
		e.mu.Unlock()
	}
}

// OnClose registers fn for every close reason.
func (e *Emitter) OnClose(fn func()) {
	e.OnCompletion(fn)
	e.OnTimeout(fn)
	e.OnError(func(error) { fn() })
}
