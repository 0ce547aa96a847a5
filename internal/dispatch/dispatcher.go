// Package dispatch is the single choke-point through which every message enters
// a conversation. Deliver appends to the log, wakes pending long-poll waiters
// and fans out to the conversation's sockets as one step per conversation.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/conversation"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/room"
	"github.com/eldtechnologies/chatrelay/internal/waiter"
)

// Dispatcher delivers messages to conversations and their live consumers.
type Dispatcher struct {
	rooms    *room.Registry
	waiters  *waiter.Registry
	archiver *Archiver
	logger   zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithArchiver mirrors every delivered message to a transcript archive.
func WithArchiver(a *Archiver) Option {
	return func(d *Dispatcher) { d.archiver = a }
}

// New creates a Dispatcher over the given registries.
func New(rooms *room.Registry, waiters *waiter.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rooms:   rooms,
		waiters: waiters,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("component", "dispatcher").Logger()
	return d
}

// Deliver appends msg to conv, then resolves every pending waiter with exactly
// this message and pushes it to every socket in the conversation's room.
// Socket failures are isolated per connection and never reported to the caller.
func (d *Dispatcher) Deliver(conv *conversation.Conversation, msg models.Message) {
	frame, err := json.Marshal(models.MessageFrame(msg))
	if err != nil {
		d.logger.Error().Err(err).Str("conv_id", conv.ID).Msg("encode message frame")
	}

	var woken, pushed int
	conv.Exclusive(func() {
		conv.Append(msg)

		for _, w := range d.waiters.DrainAll(conv.Key) {
			if w.Resolve([]models.Message{msg}) {
				woken++
			}
		}

		if frame != nil {
			pushed = d.rooms.Broadcast(conv.Key, frame)
		}
	})

	metrics.MessagesDelivered.WithLabelValues(string(msg.Role)).Inc()
	d.logger.Debug().
		Str("conv_id", conv.ID).
		Str("msg_id", msg.ID).
		Str("role", string(msg.Role)).
		Int("waiters", woken).
		Int("sockets", pushed).
		Msg("message delivered")

	if d.archiver != nil {
		d.archiver.Enqueue(archivedFrom(conv, msg))
	}
}

// Poll returns the messages after lastID. When there are none it suspends for
// up to wait until the next Deliver on conv, returning that single message, or
// an empty slice on timeout. If ctx ends first the wait is abandoned.
func (d *Dispatcher) Poll(ctx context.Context, conv *conversation.Conversation, lastID string, wait time.Duration) []models.Message {
	var (
		backlog []models.Message
		w       *waiter.Waiter
	)
	conv.Exclusive(func() {
		backlog = conv.SuffixAfter(lastID)
		if len(backlog) == 0 {
			w = d.waiters.Register(conv.Key, wait)
		}
	})
	if w == nil {
		metrics.PollOutcomes.WithLabelValues("backlog").Inc()
		return backlog
	}

	metrics.PollWaiters.Inc()
	defer metrics.PollWaiters.Dec()

	select {
	case msgs := <-w.C():
		if w.TimedOut() {
			metrics.PollOutcomes.WithLabelValues("timeout").Inc()
		} else {
			metrics.PollOutcomes.WithLabelValues("message").Inc()
		}
		return msgs
	case <-ctx.Done():
		if w.Cancel() {
			metrics.PollOutcomes.WithLabelValues("cancelled").Inc()
			return []models.Message{}
		}
		// Delivery or timeout won the claim; its result is already buffered.
		return <-w.C()
	}
}

// Attach sends c a history frame with the last historySize messages and joins
// it to conv's room. Both happen under the conversation lock, so the history
// frame precedes every message frame the client receives afterwards.
func (d *Dispatcher) Attach(conv *conversation.Conversation, c *room.Client, historySize int) error {
	var err error
	conv.Exclusive(func() {
		var frame []byte
		frame, err = json.Marshal(models.HistoryFrame(conv.Tail(historySize)))
		if err != nil {
			return
		}
		c.Send(frame)
		d.rooms.Join(conv.Key, c)
	})
	return err
}

// Detach removes c from conv's room. Safe to call more than once.
func (d *Dispatcher) Detach(conv *conversation.Conversation, c *room.Client) {
	d.rooms.Leave(conv.Key, c)
}

func archivedFrom(conv *conversation.Conversation, msg models.Message) models.ArchivedMessage {
	return models.ArchivedMessage{
		Message:        msg,
		ConversationID: conv.ID,
		CompanyID:      conv.CompanyID,
		VisitorID:      conv.VisitorID,
	}
}
