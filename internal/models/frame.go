package models

// Socket frame types.
const (
	FrameHistory     = "history"
	FrameMessage     = "message"
	FrameUserMessage = "userMessage"
)

// Frame is the JSON envelope exchanged over the websocket.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Text    string `json:"text,omitempty"`
}

// HistoryFrame wraps recent messages sent once on connect.
func HistoryFrame(msgs []Message) Frame {
	if msgs == nil {
		msgs = []Message{}
	}
	return Frame{Type: FrameHistory, Payload: msgs}
}

// MessageFrame wraps a single newly delivered message.
func MessageFrame(msg Message) Frame {
	return Frame{Type: FrameMessage, Payload: msg}
}
