package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/conversation"
	"github.com/eldtechnologies/chatrelay/internal/dispatch"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/reply"
	"github.com/eldtechnologies/chatrelay/internal/room"
	"github.com/eldtechnologies/chatrelay/internal/store"
	"github.com/eldtechnologies/chatrelay/internal/waiter"
)

// maxIDLength bounds companyId and visitorId in bytes.
const maxIDLength = 256

// Deps are the shared services the handlers operate on.
type Deps struct {
	Conversations *conversation.Store
	Dispatcher    *dispatch.Dispatcher
	Replies       *reply.Engine
	Rooms         *room.Registry
	Waiters       *waiter.Registry

	// Optional backends; nil when not configured.
	Archive store.Archive
	Redis   *store.RedisStore

	Logger zerolog.Logger
}

// Options tune the transports.
type Options struct {
	PollTimeout      time.Duration
	HistorySize      int
	MaxMessageBytes  int
	SocketSendBuffer int
	AllowedOrigins   []string
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	convs      *conversation.Store
	dispatcher *dispatch.Dispatcher
	replies    *reply.Engine
	rooms      *room.Registry
	waiters    *waiter.Registry
	archive    store.Archive
	redis      *store.RedisStore
	logger     zerolog.Logger
	opts       Options
	upgrader   websocket.Upgrader
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps, opts Options) *Handler {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 25 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 20
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 4096
	}
	h := &Handler{
		convs:      deps.Conversations,
		dispatcher: deps.Dispatcher,
		replies:    deps.Replies,
		rooms:      deps.Rooms,
		waiters:    deps.Waiters,
		archive:    deps.Archive,
		redis:      deps.Redis,
		logger:     deps.Logger.With().Str("component", "handlers").Logger(),
		opts:       opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug().Err(err).Msg("write response")
	}
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// submit is the shared entry for visitor text from any transport: the user
// message is delivered, then the automated reply is scheduled.
func (h *Handler) submit(conv *conversation.Conversation, text string) models.Message {
	msg := models.NewMessage(models.RoleUser, text)
	h.dispatcher.Deliver(conv, msg)
	if h.replies != nil {
		h.replies.Schedule(conv, text)
	}
	return msg
}

var (
	errMissingIDs = errors.New("companyId and visitorId are required")
	errInvalidIDs = fmt.Errorf("companyId and visitorId must be valid UTF-8 of at most %d bytes", maxIDLength)
)

// validateIDs checks a company/visitor pair. The ids are the conversation
// identity and are used verbatim, never trimmed or shortened.
func validateIDs(companyID, visitorID string) error {
	if companyID == "" || visitorID == "" {
		return errMissingIDs
	}
	for _, id := range []string{companyID, visitorID} {
		if len(id) > maxIDLength || !utf8.ValidString(id) {
			return errInvalidIDs
		}
	}
	return nil
}

// queryIDs reads and validates the companyId and visitorId query parameters.
func queryIDs(r *http.Request) (companyID, visitorID string, err error) {
	q := r.URL.Query()
	companyID, visitorID = q.Get("companyId"), q.Get("visitorId")
	return companyID, visitorID, validateIDs(companyID, visitorID)
}

// originChecker allows every origin unless an allow-list is configured.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
