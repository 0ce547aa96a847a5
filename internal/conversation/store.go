package conversation

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// ID returns the display identity for a company/visitor pair, as reported to
// clients. It is not unique when either part contains ':'; use Key for lookups.
func ID(companyID, visitorID string) string {
	return companyID + ":" + visitorID
}

// Key returns an unambiguous identity for a company/visitor pair. The length
// prefix keeps ("a:b", "c") and ("a", "b:c") apart.
func Key(companyID, visitorID string) string {
	return strconv.Itoa(len(companyID)) + "/" + companyID + ":" + visitorID
}

type pair struct {
	companyID string
	visitorID string
}

// Store owns every conversation known to the process.
// Conversations are created lazily and live until the process exits.
type Store struct {
	mu    sync.RWMutex
	convs map[pair]*Conversation
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{convs: make(map[pair]*Conversation)}
}

// GetOrCreate returns the conversation for (companyID, visitorID), creating it
// on first reference. The same handle is returned for the same pair.
func (s *Store) GetOrCreate(companyID, visitorID string) *Conversation {
	k := pair{companyID: companyID, visitorID: visitorID}

	s.mu.RLock()
	conv, ok := s.convs[k]
	s.mu.RUnlock()
	if ok {
		return conv
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[k]; ok {
		return conv
	}
	conv = newConversation(companyID, visitorID)
	s.convs[k] = conv
	return conv
}

// Get looks up an existing conversation.
func (s *Store) Get(companyID, visitorID string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[pair{companyID: companyID, visitorID: visitorID}]
	return conv, ok
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Summary is a point-in-time description of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"company_id"`
	Messages     int       `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Snapshot summarizes all conversations, most recently active first.
func (s *Store) Snapshot() []Summary {
	s.mu.RLock()
	convs := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		convs = append(convs, c)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Conversation is the ordered message log for one company/visitor pair.
type Conversation struct {
	// ID is the display identity reported to clients; Key is unique and is
	// what waiters and rooms are registered under.
	ID        string
	Key       string
	CompanyID string
	VisitorID string
	CreatedAt time.Time

	// dispatch serializes deliver, poll registration and socket attach.
	dispatch sync.Mutex

	mu           sync.RWMutex
	messages     []models.Message
	lastActivity time.Time
}

func newConversation(companyID, visitorID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:           ID(companyID, visitorID),
		Key:          Key(companyID, visitorID),
		CompanyID:    companyID,
		VisitorID:    visitorID,
		CreatedAt:    now,
		lastActivity: now,
	}
}

// Exclusive runs fn while holding the conversation's dispatch lock.
// fn must not call Exclusive on the same conversation.
func (c *Conversation) Exclusive(fn func()) {
	c.dispatch.Lock()
	defer c.dispatch.Unlock()
	fn()
}

// Append adds msg to the tail of the log.
func (c *Conversation) Append(msg models.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// SuffixAfter returns every message strictly after the one with id lastID.
// An empty or unknown lastID yields the whole log.
func (c *Conversation) SuffixAfter(lastID string) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if lastID != "" {
		for i := len(c.messages) - 1; i >= 0; i-- {
			if c.messages[i].ID == lastID {
				start = i + 1
				break
			}
		}
	}
	return clone(c.messages[start:])
}

// Tail returns the most recent n messages in log order.
func (c *Conversation) Tail(n int) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 {
		return []models.Message{}
	}
	start := len(c.messages) - n
	if start < 0 {
		start = 0
	}
	return clone(c.messages[start:])
}

// Len returns the number of messages in the log.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// LastActivity returns when the conversation was created or last appended to.
func (c *Conversation) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Summary describes the conversation without exposing the log.
func (c *Conversation) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Summary{
		ID:           c.ID,
		CompanyID:    c.CompanyID,
		Messages:     len(c.messages),
		CreatedAt:    c.CreatedAt,
		LastActivity: c.lastActivity,
	}
}

func clone(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}
