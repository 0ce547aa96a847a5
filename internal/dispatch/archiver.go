package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

const (
	defaultArchiveQueue = 1024
	archiveWriteTimeout = 5 * time.Second
)

// MessageSaver is the write side of a transcript archive.
type MessageSaver interface {
	SaveMessage(ctx context.Context, msg *models.ArchivedMessage) error
}

// Archiver writes delivered messages to an archive off the dispatch path.
// Enqueue never blocks; when the queue is full the message is dropped and counted.
type Archiver struct {
	saver  MessageSaver
	queue  chan models.ArchivedMessage
	logger zerolog.Logger
}

// NewArchiver creates an archiver with the given queue size (0 picks a default).
func NewArchiver(saver MessageSaver, queueSize int, logger zerolog.Logger) *Archiver {
	if queueSize <= 0 {
		queueSize = defaultArchiveQueue
	}
	return &Archiver{
		saver:  saver,
		queue:  make(chan models.ArchivedMessage, queueSize),
		logger: logger.With().Str("component", "archiver").Logger(),
	}
}

// Enqueue schedules msg for archiving.
func (a *Archiver) Enqueue(msg models.ArchivedMessage) {
	select {
	case a.queue <- msg:
	default:
		metrics.ArchiveWrites.WithLabelValues("dropped").Inc()
		a.logger.Warn().Str("conv_id", msg.ConversationID).Str("msg_id", msg.ID).Msg("archive queue full, dropping message")
	}
}

// Run writes queued messages until ctx is cancelled, then flushes what is
// already queued and returns.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-a.queue:
			a.save(msg)
		case <-ctx.Done():
			a.flush()
			return nil
		}
	}
}

func (a *Archiver) flush() {
	for {
		select {
		case msg := <-a.queue:
			a.save(msg)
		default:
			return
		}
	}
}

func (a *Archiver) save(msg models.ArchivedMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()

	if err := a.saver.SaveMessage(ctx, &msg); err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		a.logger.Error().Err(err).Str("conv_id", msg.ConversationID).Str("msg_id", msg.ID).Msg("archive write failed")
		return
	}
	metrics.ArchiveWrites.WithLabelValues("ok").Inc()
}
