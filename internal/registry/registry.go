// Package registry tracks live response streams by session id so they can be looked up or
// interrupted from another request.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/easeaico/agent-chat/internal/stream"
)

// InterruptEvent is the SSE event name sent to a client whose stream was interrupted.
const InterruptEvent = "interrupt"

const interruptNotice = "对话已被中断"

// Record is a registered stream.
type Record struct {
	SessionID string
	Emitter   *stream.Emitter
	StartTime time.Time

	interrupted atomic.Bool
}

// Interrupted reports whether the stream was closed by Interrupt.
func (r *Record) Interrupted() bool {
	return r.interrupted.Load()
}

// Registry is safe for concurrent use. All operations are atomic per session id.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	waiters map[string][]chan struct{}
}

func New() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		waiters: make(map[string][]chan struct{}),
	}
}

// Register stores e under sessionID and removes it again when e completes, times out or fails.
// A previous stream for the same session is replaced but keeps running until it closes.
func (r *Registry) Register(sessionID string, e *stream.Emitter) *Record {
	rec := &Record{SessionID: sessionID, Emitter: e, StartTime: time.Now()}

	r.mu.Lock()
	if _, ok := r.records[sessionID]; ok {
		slog.Warn("replacing live stream", "session_id", sessionID)
	}
	r.records[sessionID] = rec
	waiters := r.waiters[sessionID]
	delete(r.waiters, sessionID)
	r.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}

	e.OnCompletion(func() {
		if r.removeRecord(rec) {
			slog.Debug("stream completed", "session_id", sessionID)
		}
	})
	e.OnTimeout(func() {
		if r.removeRecord(rec) {
			slog.Warn("stream timed out", "session_id", sessionID, "elapsed", time.Since(rec.StartTime))
		}
	})
	e.OnError(func(err error) {
		if r.removeRecord(rec) {
			slog.Warn("stream failed", "session_id", sessionID, "error", err.Error())
		}
	})
	return rec
}

// Remove evicts the record for sessionID. After Remove no Interrupt can reach that stream.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[sessionID]; !ok {
		return false
	}
	delete(r.records, sessionID)
	return true
}

// removeRecord evicts rec only if it is still the registered record for its session.
func (r *Registry) removeRecord(rec *Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records[rec.SessionID] != rec {
		return false
	}
	delete(r.records, rec.SessionID)
	return true
}

// Interrupt closes the live stream of sessionID after a best-effort interrupt event. It returns
// false when no stream is live, so at most one call per registration succeeds.
func (r *Registry) Interrupt(sessionID string) bool {
	r.mu.Lock()
	rec, ok := r.records[sessionID]
	if ok {
		delete(r.records, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	rec.interrupted.Store(true)
	rec.Emitter.Send(stream.Event{
		Name: InterruptEvent,
		Data: map[string]any{"interrupted": true, "message": interruptNotice},
	})
	rec.Emitter.Complete()
	slog.Info("stream interrupted", "session_id", sessionID)
	return true
}

// Lookup returns the live stream of sessionID.
func (r *Registry) Lookup(sessionID string) (*stream.Emitter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sessionID]
	if !ok {
		return nil, false
	}
	return rec.Emitter, true
}

// Await returns the live stream of sessionID, waiting up to wait for one to be registered.
func (r *Registry) Await(ctx context.Context, sessionID string, wait time.Duration) (*stream.Emitter, bool) {
	r.mu.Lock()
	if rec, ok := r.records[sessionID]; ok {
		r.mu.Unlock()
		return rec.Emitter, true
	}
	ch := make(chan struct{})
	r.waiters[sessionID] = append(r.waiters[sessionID], ch)
	r.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ch:
		return r.Lookup(sessionID)
	case <-timer.C:
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.dropWaiter(sessionID, ch)
	r.mu.Unlock()
	return nil, false
}

func (r *Registry) dropWaiter(sessionID string, ch chan struct{}) {
	list := r.waiters[sessionID]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.waiters, sessionID)
		return
	}
	r.waiters[sessionID] = list
}

// Len returns the number of live streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
