package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is the local record of a chat conversation with one bucket.
// SessionID is empty until the backend has issued one.
type Conversation struct {
	ID        string
	BucketID  string
	SessionID string
	Topic     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TranscriptEntry is one visible message of a conversation, including
// informational replies that were never persisted remotely.
type TranscriptEntry struct {
	ID             int64
	ConversationID string
	Sender         string // "user" or "assistant"
	Content        string
	Outcome        string
	Sources        string // JSON-encoded citations, empty when there are none
	CreatedAt      time.Time
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
