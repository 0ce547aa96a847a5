package reply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/conversation"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

type delivery struct {
	convID string
	msg    models.Message
	at     time.Time
}

type recordingDeliverer struct {
	mu  sync.Mutex
	got []delivery
}

func (d *recordingDeliverer) Deliver(conv *conversation.Conversation, msg models.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, delivery{convID: conv.ID, msg: msg, at: time.Now()})
}

func (d *recordingDeliverer) deliveries() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivery(nil), d.got...)
}

func TestCanned_ReplyUsesKnownTemplate(t *testing.T) {
	allowed := map[string]bool{
		`You said: "hello". Got it!`: true,
		"Echo: hello":                true,
		"Processing complete: hello": true,
	}
	for i := 0; i < 50; i++ {
		got, err := Canned{}.Reply(context.Background(), "hello")
		require.NoError(t, err)
		assert.True(t, allowed[got], "unexpected reply %q", got)
	}
}

func TestEngine_DeliversOneAssistantReplyWithinDelay(t *testing.T) {
	d := &recordingDeliverer{}
	e := New(d, nil, WithDelay(20*time.Millisecond, 40*time.Millisecond))
	defer e.Stop()

	conv := conversation.NewStore().GetOrCreate("acme", "v1")
	start := time.Now()
	require.True(t, e.Schedule(conv, "hello"))
	assert.Equal(t, 1, e.Pending())

	require.Eventually(t, func() bool { return len(d.deliveries()) == 1 }, time.Second, 5*time.Millisecond)
	got := d.deliveries()[0]
	assert.Equal(t, "acme:v1", got.convID)
	assert.Equal(t, models.RoleAssistant, got.msg.Role)
	assert.Contains(t, got.msg.Text, "hello")
	assert.GreaterOrEqual(t, got.at.Sub(start), 20*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, d.deliveries(), 1, "exactly one reply per user message")
	assert.Equal(t, 0, e.Pending())
}

func TestEngine_DefaultDelayRange(t *testing.T) {
	e := New(&recordingDeliverer{}, nil)
	for i := 0; i < 100; i++ {
		d := e.delay()
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.Less(t, d, 1600*time.Millisecond)
	}
}

func TestEngine_ResponderErrorFallsBackToCanned(t *testing.T) {
	d := &recordingDeliverer{}
	failing := ResponderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model unavailable")
	})
	e := New(d, failing, WithDelay(time.Millisecond, 2*time.Millisecond))
	defer e.Stop()

	conv := conversation.NewStore().GetOrCreate("acme", "v1")
	e.Schedule(conv, "ping")

	require.Eventually(t, func() bool { return len(d.deliveries()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, d.deliveries()[0].msg.Text, "ping")
}

func TestEngine_CustomResponder(t *testing.T) {
	d := &recordingDeliverer{}
	upper := ResponderFunc(func(_ context.Context, text string) (string, error) {
		return strings.ToUpper(text), nil
	})
	e := New(d, upper, WithDelay(time.Millisecond, 2*time.Millisecond))
	defer e.Stop()

	e.Schedule(conversation.NewStore().GetOrCreate("acme", "v1"), "shout")

	require.Eventually(t, func() bool { return len(d.deliveries()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "SHOUT", d.deliveries()[0].msg.Text)
}

func TestEngine_StopCancelsPendingReplies(t *testing.T) {
	d := &recordingDeliverer{}
	e := New(d, nil, WithDelay(50*time.Millisecond, 60*time.Millisecond))
	conv := conversation.NewStore().GetOrCreate("acme", "v1")

	e.Schedule(conv, "one")
	e.Schedule(conv, "two")
	assert.Equal(t, 2, e.Pending())

	e.Stop()
	assert.Equal(t, 0, e.Pending())
	assert.False(t, e.Schedule(conv, "three"))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, d.deliveries())
}
