package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

func appendN(c *Conversation, n int) []models.Message {
	msgs := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		m := models.NewMessage(models.RoleUser, fmt.Sprintf("msg-%d", i))
		c.Append(m)
		msgs = append(msgs, m)
	}
	return msgs
}

func TestStore_GetOrCreateIsIdempotent(t *testing.T) {
	s := NewStore()

	a := s.GetOrCreate("acme", "v1")
	b := s.GetOrCreate("acme", "v1")
	c := s.GetOrCreate("acme", "v2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "acme:v1", a.ID)
	assert.Equal(t, "acme", a.CompanyID)
	assert.Equal(t, "v1", a.VisitorID)
	assert.Equal(t, 2, s.Len())

	got, ok := s.Get("acme", "v2")
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = s.Get("acme", "missing")
	assert.False(t, ok)
}

func TestStore_ColonInIDsDoesNotMergeConversations(t *testing.T) {
	s := NewStore()

	a := s.GetOrCreate("a:b", "c")
	b := s.GetOrCreate("a", "b:c")

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, a.ID, b.ID, "display ids keep the joined format")
	assert.NotEqual(t, a.Key, b.Key)

	a.Append(models.NewMessage(models.RoleUser, "for a only"))
	assert.Equal(t, 0, b.Len())
}

func TestStore_GetOrCreateConcurrent(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	handles := make([]*Conversation, 50)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = s.GetOrCreate("acme", "v1")
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, 1, s.Len())
}

func TestConversation_AppendPreservesOrder(t *testing.T) {
	c := NewStore().GetOrCreate("acme", "v1")
	want := appendN(c, 10)

	assert.Equal(t, want, c.SuffixAfter(""))
	assert.Equal(t, 10, c.Len())
}

func TestConversation_AppendBumpsLastActivity(t *testing.T) {
	c := NewStore().GetOrCreate("acme", "v1")
	created := c.LastActivity()
	assert.Equal(t, c.CreatedAt, created)

	time.Sleep(2 * time.Millisecond)
	c.Append(models.NewMessage(models.RoleUser, "hi"))
	assert.True(t, c.LastActivity().After(created))
}

func TestConversation_SuffixAfter(t *testing.T) {
	c := NewStore().GetOrCreate("acme", "v1")

	assert.NotNil(t, c.SuffixAfter(""), "empty log must yield an empty slice, not nil")
	assert.Empty(t, c.SuffixAfter(""))

	msgs := appendN(c, 5)

	t.Run("absent cursor returns full log", func(t *testing.T) {
		assert.Equal(t, msgs, c.SuffixAfter(""))
	})

	t.Run("unknown cursor returns full log", func(t *testing.T) {
		assert.Equal(t, msgs, c.SuffixAfter("01HZZZZZZZZZZZZZZZZZZZZZZZ"))
	})

	t.Run("middle cursor returns strict suffix", func(t *testing.T) {
		assert.Equal(t, msgs[3:], c.SuffixAfter(msgs[2].ID))
	})

	t.Run("last id returns empty", func(t *testing.T) {
		got := c.SuffixAfter(msgs[4].ID)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("repeated reads are identical", func(t *testing.T) {
		assert.Equal(t, c.SuffixAfter(msgs[1].ID), c.SuffixAfter(msgs[1].ID))
	})
}

func TestConversation_SuffixAfterReturnsCopy(t *testing.T) {
	c := NewStore().GetOrCreate("acme", "v1")
	appendN(c, 2)

	got := c.SuffixAfter("")
	got[0].Text = "mutated"

	assert.Equal(t, "msg-0", c.SuffixAfter("")[0].Text)
}

func TestConversation_Tail(t *testing.T) {
	c := NewStore().GetOrCreate("acme", "v1")
	assert.Empty(t, c.Tail(20))

	msgs := appendN(c, 25)

	assert.Equal(t, msgs[5:], c.Tail(20))
	assert.Equal(t, msgs, c.Tail(100))
	assert.Empty(t, c.Tail(0))
}

func TestStore_SnapshotOrdersByActivity(t *testing.T) {
	s := NewStore()
	first := s.GetOrCreate("acme", "v1")
	second := s.GetOrCreate("acme", "v2")

	appendN(first, 1)
	appendN(second, 2)
	time.Sleep(5 * time.Millisecond)
	appendN(first, 1)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, first.ID, snap[0].ID)
	assert.Equal(t, 2, snap[0].Messages)
	assert.Equal(t, second.ID, snap[1].ID)
}
