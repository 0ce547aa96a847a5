package waiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

func receive(t *testing.T, w *Waiter) []models.Message {
	t.Helper()
	select {
	case msgs := <-w.C():
		return msgs
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for waiter result")
		return nil
	}
}

func TestRegistry_ResolveDeliversBatch(t *testing.T) {
	r := NewRegistry()
	w := r.Register("c1", time.Minute)
	require.Equal(t, 1, r.Pending("c1"))

	msg := models.NewMessage(models.RoleUser, "hello")
	ws := r.DrainAll("c1")
	require.Len(t, ws, 1)
	assert.True(t, ws[0].Resolve([]models.Message{msg}))

	assert.Equal(t, []models.Message{msg}, receive(t, w))
	assert.False(t, w.TimedOut())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Pending("c1"))
}

func TestRegistry_TimeoutResolvesEmpty(t *testing.T) {
	r := NewRegistry()
	w := r.Register("c1", 20*time.Millisecond)

	got := receive(t, w)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.True(t, w.TimedOut())

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, r.DrainAll("c1"), "expired waiter must be removed from the registry")
}

func TestRegistry_ResolveAfterTimeoutIsNoop(t *testing.T) {
	r := NewRegistry()
	w := r.Register("c1", 10*time.Millisecond)
	receive(t, w)

	assert.False(t, w.Resolve([]models.Message{models.NewMessage(models.RoleUser, "late")}))
	select {
	case extra := <-w.C():
		t.Fatalf("waiter settled twice, got %v", extra)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestRegistry_CancelRemovesAndSuppressesResult(t *testing.T) {
	r := NewRegistry()
	w := r.Register("c1", 20*time.Millisecond)
	other := r.Register("c1", time.Minute)

	assert.True(t, w.Cancel())
	assert.False(t, w.Cancel())
	assert.Equal(t, 1, r.Pending("c1"))

	select {
	case got := <-w.C():
		t.Fatalf("cancelled waiter received %v", got)
	case <-time.After(50 * time.Millisecond):
	}

	assert.True(t, other.Cancel())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DrainIsPerConversation(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", time.Minute)
	r.Register("c1", time.Minute)
	keep := r.Register("c2", time.Minute)

	assert.Len(t, r.DrainAll("c1"), 2)
	assert.Nil(t, r.DrainAll("c1"))
	assert.Equal(t, 1, r.Pending("c2"))
	assert.Equal(t, 1, r.Len())
	keep.Cancel()
}

// Every waiter must be settled by exactly one of resolve or timeout.
func TestRegistry_ResolveTimeoutRaceSettlesOnce(t *testing.T) {
	r := NewRegistry()
	const n = 200

	waiters := make([]*Waiter, n)
	for i := range waiters {
		waiters[i] = r.Register("c1", time.Duration(i%5)*time.Millisecond)
	}

	var resolved atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(2 * time.Millisecond)
		for _, w := range r.DrainAll("c1") {
			if w.Resolve([]models.Message{models.NewMessage(models.RoleUser, "x")}) {
				resolved.Add(1)
			}
		}
	}()
	wg.Wait()

	var timedOut int32
	for _, w := range waiters {
		msgs := receive(t, w)
		if w.TimedOut() {
			timedOut++
			assert.Empty(t, msgs)
		} else {
			assert.Len(t, msgs, 1)
		}
		select {
		case extra := <-w.C():
			t.Fatalf("waiter settled twice: %v", extra)
		default:
		}
	}
	assert.Equal(t, int32(n), resolved.Load()+timedOut)
	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}
