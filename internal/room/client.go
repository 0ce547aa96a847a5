package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Conn is the subset of *websocket.Conn a Client writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSendBuffer sets how many frames may queue before the client is dropped.
func WithSendBuffer(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.sendBuffer = n
		}
	}
}

// WithWriteTimeout bounds a single frame write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.writeTimeout = d }
}

// WithPingInterval sets the keepalive ping period. Zero disables pings.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.pingInterval = d }
}

// WithLogger sets the client's logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// Client is one live socket connection. Frames are queued by Send and written
// in order by a dedicated goroutine, so a slow peer never blocks dispatch.
type Client struct {
	ID string

	conn         Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	startOnce    sync.Once
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       zerolog.Logger
}

// NewClient wraps conn. Call Start to begin writing.
func NewClient(conn Conn, opts ...ClientOption) *Client {
	c := &Client{
		ID:           uuid.NewString(),
		conn:         conn,
		done:         make(chan struct{}),
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.send = make(chan []byte, c.sendBuffer)
	c.logger = c.logger.With().Str("client_id", c.ID).Logger()
	return c
}

// Start launches the writer goroutine. Calling it more than once is harmless.
func (c *Client) Start() {
	c.startOnce.Do(func() { go c.writeLoop() })
}

// Send queues data without blocking. It returns false, and closes the client,
// when the client is closed or its queue is full.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn().Int("buffer", c.sendBuffer).Msg("ws send queue full, dropping connection")
		c.Close()
		return false
	}
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops the writer and closes the underlying connection. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) writeLoop() {
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("ws write failed, dropping connection")
				c.Close()
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("ws ping failed")
				c.Close()
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(messageType, data)
}
