package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/poll", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, apiCSP, rec.Header().Get("Content-Security-Policy"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/widget.js", nil))
	assert.Empty(t, rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, widgetCSP, rec.Header().Get("Content-Security-Policy"))
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(16)(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(strings.Repeat("x", 17))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"request body too large"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{}")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(okHandler)

	cases := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		want        int
	}{
		{"json post", http.MethodPost, "/api/messages", "application/json", "{}", http.StatusOK},
		{"form post", http.MethodPost, "/api/messages", "text/plain", "hi", http.StatusUnsupportedMediaType},
		{"poll", http.MethodGet, "/api/poll?companyId=acme&visitorId=v1", "", "", http.StatusOK},
		{"traversal", http.MethodGet, "/static/../etc/passwd", "", "", http.StatusBadRequest},
		{"xss in path", http.MethodGet, "/api/<script>", "", "", http.StatusBadRequest},
		{"dots in query", http.MethodGet, "/api/poll?companyId=acme..io&visitorId=john..doe", "", "", http.StatusOK},
		{"slashes in query", http.MethodGet, "/api/poll?companyId=acme&visitorId=https://x", "", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/", strings.NewReader(tc.body))
			req.URL.Path, req.URL.RawQuery, _ = strings.Cut(tc.target, "?")
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/poll", normalizePath("/api/poll"))
	assert.Equal(t, "/ws", normalizePath("/ws"))
	assert.Equal(t, "/api/:unknown", normalizePath("/api/whatever/123"))
	assert.Equal(t, "/static", normalizePath("/widget/app.js"))
}

// Metrics and Logger wrap the writer; websocket upgrades must still work.
func TestWrappedWriterSupportsWebsocketUpgrade(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ok"))
	})

	srv := httptest.NewServer(Metrics(Logger(zerolog.Nop())(ws)))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestRateLimiter_PassesThroughWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	h := rl.Middleware(okHandler)

	for i := 0; i < 500; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_Whitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"192.0.2.7", "10.0.0.0/8", "not-a-cidr/99"},
	})

	assert.True(t, rl.isWhitelisted("192.0.2.7"))
	assert.True(t, rl.isWhitelisted("10.1.2.3"))
	assert.False(t, rl.isWhitelisted("192.0.2.8"))
	assert.False(t, rl.isWhitelisted("garbage"))
}

func TestKeys(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/poll?companyId=acme&visitorId=v1", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "ratelimit:visitor:acme:v1", visitorKey(r))
	assert.Equal(t, "ratelimit:ip:203.0.113.9", ipKey(r))

	r = httptest.NewRequest(http.MethodPost, "/api/messages", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "ratelimit:ip:198.51.100.1", ipKey(r))
}

// Submit carries its ids in the body, so it is limited per client IP.
func TestRateLimiter_SubmitIsKeyedByIP(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	r := httptest.NewRequest(http.MethodPost, "/api/messages?companyId=acme&visitorId=v1", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	limit, ok := rl.limits["POST /api/messages"]
	require.True(t, ok)
	assert.Equal(t, "ratelimit:ip:203.0.113.9", limit.KeyFunc(r))

	limit = rl.limits["GET /api/poll"]
	assert.Equal(t, "ratelimit:visitor:acme:v1", limit.KeyFunc(httptest.NewRequest(http.MethodGet, "/api/poll?companyId=acme&visitorId=v1", nil)))
}
