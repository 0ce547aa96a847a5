// Package waiter tracks suspended long-poll requests per conversation.
//
// Each Waiter is settled exactly once, by whichever of Resolve, its timeout or
// Cancel claims it first. The losers are no-ops.
package waiter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// Registry holds pending waiters keyed by conversation id.
type Registry struct {
	mu      sync.Mutex
	waiters map[string][]*Waiter
	total   int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{waiters: make(map[string][]*Waiter)}
}

// Register adds a waiter for convID that resolves with an empty batch after timeout
// unless something claims it earlier.
func (r *Registry) Register(convID string, timeout time.Duration) *Waiter {
	w := &Waiter{
		convID: convID,
		reg:    r,
		ch:     make(chan []models.Message, 1),
	}

	r.mu.Lock()
	r.waiters[convID] = append(r.waiters[convID], w)
	r.total++
	// Started under the lock so expire's removal is ordered after the insert.
	w.timer = time.AfterFunc(timeout, w.expire)
	r.mu.Unlock()

	return w
}

// DrainAll atomically removes and returns every waiter registered for convID.
func (r *Registry) DrainAll(convID string) []*Waiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws := r.waiters[convID]
	if len(ws) == 0 {
		return nil
	}
	delete(r.waiters, convID)
	r.total -= len(ws)
	return ws
}

// Pending returns the number of waiters registered for convID.
func (r *Registry) Pending(convID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[convID])
}

// Len returns the number of waiters across all conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *Registry) remove(w *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws := r.waiters[w.convID]
	for i, candidate := range ws {
		if candidate != w {
			continue
		}
		ws = append(ws[:i:i], ws[i+1:]...)
		r.total--
		break
	}
	if len(ws) == 0 {
		delete(r.waiters, w.convID)
		return
	}
	r.waiters[w.convID] = ws
}

// Waiter is one suspended poll request.
type Waiter struct {
	convID   string
	reg      *Registry
	ch       chan []models.Message
	timer    *time.Timer
	claimed  atomic.Bool
	timedOut atomic.Bool
}

// C receives the waiter's single result. Nothing is sent if the waiter is cancelled.
func (w *Waiter) C() <-chan []models.Message {
	return w.ch
}

// ConversationID returns the conversation the waiter belongs to.
func (w *Waiter) ConversationID() string {
	return w.convID
}

// TimedOut reports whether the timeout settled the waiter.
func (w *Waiter) TimedOut() bool {
	return w.timedOut.Load()
}

// Resolve hands msgs to the waiter. It returns false if the waiter was already settled.
// The caller is expected to have removed the waiter from the registry (DrainAll).
func (w *Waiter) Resolve(msgs []models.Message) bool {
	if !w.claim() {
		return false
	}
	w.timer.Stop()
	if msgs == nil {
		msgs = []models.Message{}
	}
	w.ch <- msgs
	return true
}

// Cancel abandons the waiter, e.g. when the polling client went away.
func (w *Waiter) Cancel() bool {
	if !w.claim() {
		return false
	}
	w.timer.Stop()
	w.reg.remove(w)
	return true
}

func (w *Waiter) expire() {
	if !w.claim() {
		return
	}
	w.timedOut.Store(true)
	w.reg.remove(w)
	w.ch <- []models.Message{}
}

func (w *Waiter) claim() bool {
	return w.claimed.CompareAndSwap(false, true)
}
