package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies an assistant reply.
type Outcome string

const (
	Answered        Outcome = "answered"
	NoSources       Outcome = "no_sources"
	StillProcessing Outcome = "still_processing"
	TimedOut        Outcome = "timed_out"
	Failed          Outcome = "failed"
)

// Entry is one visible line of a conversation. Informational replies are
// entries too, even though they are never persisted remotely.
type Entry struct {
	Sender    Sender
	Content   string
	Outcome   Outcome
	Sources   []Citation
	CreatedAt time.Time
}

// Conversation is the client side of one chat with a bucket. It remembers
// the backend session across turns. Safe for concurrent use.
type Conversation struct {
	// ID names the conversation locally. It is unrelated to the backend
	// session id.
	ID       string
	BucketID string

	mu         sync.Mutex
	sessionID  string
	transcript []Entry
}

func NewConversation(bucketID string) *Conversation {
	return &Conversation{ID: uuid.NewString(), BucketID: bucketID}
}

// ResumeConversation rebuilds a conversation from a stored session id and
// transcript.
func ResumeConversation(bucketID, sessionID string, transcript []Entry) *Conversation {
	return &Conversation{
		ID:         uuid.NewString(),
		BucketID:   bucketID,
		sessionID:  sessionID,
		transcript: append([]Entry(nil), transcript...),
	}
}

// SessionID is empty until the backend has issued a session.
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conversation) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *Conversation) Transcript() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.transcript...)
}

func (c *Conversation) append(e Entry) Entry {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	c.mu.Lock()
	c.transcript = append(c.transcript, e)
	c.mu.Unlock()
	return e
}

// History returns up to n of the most recent answered exchanges, oldest
// first. A user entry followed by an informational reply is not an exchange.
func (c *Conversation) History(n int) []Exchange {
	if n <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Exchange
	for i := len(c.transcript) - 1; i > 0 && len(out) < n; i-- {
		a, q := c.transcript[i], c.transcript[i-1]
		if a.Sender != SenderAssistant || a.Outcome != Answered || q.Sender != SenderUser {
			continue
		}
		out = append(out, Exchange{Question: q.Content, Answer: a.Content})
		i--
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}
