// Package chat runs conversation turns against a bucket: readiness check,
// session creation, bounded inference and persistence of both sides.
package chat

import (
	"encoding/json"
	"time"
)

// Sender identifies which side of the conversation wrote a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Session is a durable conversation thread scoped to one bucket.
type Session struct {
	ID        string    `json:"id"`
	BucketID  string    `json:"bucketId"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one persisted side of a turn.
type Message struct {
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Exchange is one prior question/answer pair sent as inference context.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Answer is the inference endpoint's reply.
type Answer struct {
	Text    string     `json:"answer"`
	Sources []Citation `json:"sources"`
}

// Citation is a source the answer drew on. The backend sends either a bare
// string or an object.
type Citation struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (c *Citation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Citation{URL: s}
		return nil
	}
	type plain Citation
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Citation(p)
	return nil
}

// String is the most descriptive non-empty field.
func (c Citation) String() string {
	switch {
	case c.Title != "" && c.URL != "":
		return c.Title + " (" + c.URL + ")"
	case c.URL != "":
		return c.URL
	case c.Title != "":
		return c.Title
	}
	return c.ID
}
