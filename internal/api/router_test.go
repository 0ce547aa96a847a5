package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/conversation"
	"github.com/eldtechnologies/chatrelay/internal/dispatch"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
	"github.com/eldtechnologies/chatrelay/internal/room"
	"github.com/eldtechnologies/chatrelay/internal/waiter"
)

func newTestRouter(t *testing.T) (http.Handler, *conversation.Store) {
	t.Helper()

	convs := conversation.NewStore()
	rooms := room.NewRegistry(zerolog.Nop())
	waiters := waiter.NewRegistry()
	h := handlers.NewHandler(handlers.Deps{
		Conversations: convs,
		Dispatcher:    dispatch.New(rooms, waiters),
		Rooms:         rooms,
		Waiters:       waiters,
		Logger:        zerolog.Nop(),
	}, handlers.Options{PollTimeout: 20 * time.Millisecond})

	t.Cleanup(rooms.CloseAll)
	return NewRouter(zerolog.Nop(), h, nil, Options{}), convs
}

func TestRouter_DottedIDsReachPoll(t *testing.T) {
	router, convs := newTestRouter(t)

	for _, target := range []string{
		"/api/poll?companyId=acme..io&visitorId=v1",
		"/api/poll?companyId=acme&visitorId=john..doe",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.JSONEq(t, `[]`, rec.Body.String(), target)
	}

	_, ok := convs.Get("acme..io", "v1")
	assert.True(t, ok)
	_, ok = convs.Get("acme", "john..doe")
	assert.True(t, ok)
}

func TestRouter_RejectsTraversalPaths(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/api/../etc/passwd"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, rec.Body.String())
}
