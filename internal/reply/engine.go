// Package reply schedules the automated assistant response to each visitor message.
package reply

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/conversation"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

const (
	DefaultMinDelay = 800 * time.Millisecond
	DefaultMaxDelay = 1600 * time.Millisecond

	responderTimeout = 20 * time.Second
)

// Deliverer is where replies are sent; *dispatch.Dispatcher satisfies it.
type Deliverer interface {
	Deliver(conv *conversation.Conversation, msg models.Message)
}

// Option configures an Engine.
type Option func(*Engine)

// WithDelay sets the reply delay range [min, max).
func WithDelay(min, max time.Duration) Option {
	return func(e *Engine) {
		e.minDelay = min
		e.maxDelay = max
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine produces one assistant message per scheduled user message after a
// random delay. Scheduling never blocks the caller.
type Engine struct {
	deliverer Deliverer
	responder Responder
	fallback  Responder
	minDelay  time.Duration
	maxDelay  time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

// New creates an Engine. A nil responder uses Canned.
func New(deliverer Deliverer, responder Responder, opts ...Option) *Engine {
	if responder == nil {
		responder = Canned{}
	}
	e := &Engine{
		deliverer: deliverer,
		responder: responder,
		fallback:  Canned{},
		minDelay:  DefaultMinDelay,
		maxDelay:  DefaultMaxDelay,
		logger:    zerolog.Nop(),
		timers:    make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "reply").Logger()
	return e
}

// Schedule arranges for the reply to userText to be delivered to conv.
// It returns false if the engine has been stopped.
func (e *Engine) Schedule(conv *conversation.Conversation, userText string) bool {
	scheduledAt := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}

	var t *time.Timer
	t = time.AfterFunc(e.delay(), func() {
		e.mu.Lock()
		_, live := e.timers[t]
		delete(e.timers, t)
		e.mu.Unlock()
		if !live {
			return
		}
		e.fire(conv, userText, scheduledAt)
	})
	e.timers[t] = struct{}{}
	return true
}

func (e *Engine) fire(conv *conversation.Conversation, userText string, scheduledAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), responderTimeout)
	defer cancel()

	text, err := e.responder.Reply(ctx, userText)
	if err != nil || text == "" {
		e.logger.Warn().Err(err).Str("conv_id", conv.ID).Msg("responder failed, using canned reply")
		text, _ = e.fallback.Reply(ctx, userText)
	}

	e.deliverer.Deliver(conv, models.NewMessage(models.RoleAssistant, text))
	metrics.ReplyLatency.Observe(time.Since(scheduledAt).Seconds())
}

func (e *Engine) delay() time.Duration {
	span := e.maxDelay - e.minDelay
	if span <= 0 {
		return e.minDelay
	}
	return e.minDelay + rand.N(span)
}

// Pending returns the number of replies scheduled but not yet fired.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Stop cancels every pending reply and rejects further scheduling.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for t := range e.timers {
		t.Stop()
		delete(e.timers, t)
	}
}
