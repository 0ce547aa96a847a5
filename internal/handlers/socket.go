package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/chatrelay/internal/conversation"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/room"
)

const (
	pongWait       = 60 * time.Second
	closeGrace     = time.Second
	frameOverheadB = 256
)

// ErrMalformedFrame marks an inbound socket frame that was dropped.
var ErrMalformedFrame = errors.New("malformed frame")

// Reasons a frame is dropped; used as the metrics label.
const (
	reasonBinary      = "binary"
	reasonInvalidJSON = "invalid_json"
	reasonUnknownType = "unknown_type"
	reasonEmptyText   = "empty_text"
	reasonTooLong     = "too_long"
)

// FrameError describes why an inbound frame was rejected.
type FrameError struct {
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformedFrame, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformedFrame, e.Reason)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Is reports every FrameError as ErrMalformedFrame.
func (e *FrameError) Is(target error) bool { return target == ErrMalformedFrame }

// Socket upgrades to a websocket bound to one conversation. The client first
// receives the recent history, then every message delivered to the
// conversation. Inbound userMessage frames are handled like SubmitMessage.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	companyID, visitorID, idErr := queryIDs(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered with an HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	if idErr != nil {
		reason := "Missing params"
		if !errors.Is(idErr, errMissingIDs) {
			reason = "Invalid params"
		}
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		_ = conn.Close()
		return
	}

	conv := h.convs.GetOrCreate(companyID, visitorID)
	logger := h.logger.With().Str("conv_id", conv.ID).Logger()
	client := room.NewClient(conn,
		room.WithSendBuffer(h.opts.SocketSendBuffer),
		room.WithLogger(logger),
	)
	client.Start()

	if err := h.dispatcher.Attach(conv, client, h.opts.HistorySize); err != nil {
		logger.Error().Err(err).Msg("attach socket")
		client.Close()
		return
	}
	logger.Debug().Str("client_id", client.ID).Msg("socket connected")

	defer func() {
		h.dispatcher.Detach(conv, client)
		client.Close()
		logger.Debug().Str("client_id", client.ID).Msg("socket disconnected")
	}()

	h.readLoop(conn, conv, client)
}

func (h *Handler) readLoop(conn *websocket.Conn, conv *conversation.Conversation, client *room.Client) {
	conn.SetReadLimit(int64(h.opts.MaxMessageBytes + frameOverheadB))
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug().Err(err).Str("client_id", client.ID).Msg("socket read failed")
			}
			return
		}
		// Any inbound frame proves the peer is alive.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		text, err := h.parseFrame(messageType, data)
		if err != nil {
			var fe *FrameError
			if errors.As(err, &fe) {
				metrics.SocketFramesDropped.WithLabelValues(fe.Reason).Inc()
			}
			h.logger.Debug().Err(err).Str("conv_id", conv.ID).Str("client_id", client.ID).Msg("dropping socket frame")
			continue
		}

		h.submit(conv, text)
	}
}

// parseFrame extracts the visitor text from an inbound frame.
func (h *Handler) parseFrame(messageType int, data []byte) (string, error) {
	if messageType != websocket.TextMessage {
		return "", &FrameError{Reason: reasonBinary}
	}

	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", &FrameError{Reason: reasonInvalidJSON, Err: err}
	}
	if frame.Type != models.FrameUserMessage {
		return "", &FrameError{Reason: reasonUnknownType, Err: fmt.Errorf("type %q", frame.Type)}
	}
	if frame.Text == "" {
		return "", &FrameError{Reason: reasonEmptyText}
	}
	if len(frame.Text) > h.opts.MaxMessageBytes {
		return "", &FrameError{Reason: reasonTooLong, Err: fmt.Errorf("%d bytes", len(frame.Text))}
	}
	return frame.Text, nil
}
