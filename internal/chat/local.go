package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/bucketchat/internal/storage"
)

// transcriptWindow bounds how much of a stored transcript is reloaded.
const transcriptWindow = 200

// Local keeps conversations in the local database so a bucket's chat can be
// resumed across runs. The transcript includes informational replies the
// backend never sees and the citations of every answer.
type Local struct {
	db     *storage.Store
	logger *slog.Logger
}

func NewLocal(db *storage.Store, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{db: db, logger: logger}
}

// Open returns the latest conversation for bucketID, or a new one when fresh
// is set or none exists. New conversations are saved by the first Record.
func (l *Local) Open(bucketID string, fresh bool) (*Conversation, error) {
	if fresh {
		return NewConversation(bucketID), nil
	}
	stored, err := l.db.LatestConversation(bucketID)
	if errors.Is(err, storage.ErrNotFound) {
		return NewConversation(bucketID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation for %s: %w", bucketID, err)
	}
	return l.resume(stored)
}

// Get loads a stored conversation by its local id.
func (l *Local) Get(id string) (*Conversation, error) {
	stored, err := l.db.GetConversation(id)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	return l.resume(stored)
}

func (l *Local) resume(stored storage.Conversation) (*Conversation, error) {
	rows, err := l.db.Transcript(stored.ID, transcriptWindow)
	if err != nil {
		return nil, fmt.Errorf("loading transcript of %s: %w", stored.ID, err)
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{
			Sender:    Sender(r.Sender),
			Content:   r.Content,
			Outcome:   Outcome(r.Outcome),
			CreatedAt: r.CreatedAt,
		}
		if r.Sources == "" {
			continue
		}
		if err := json.Unmarshal([]byte(r.Sources), &entries[i].Sources); err != nil {
			l.logger.Warn("dropping unreadable citations", "conversation_id", stored.ID, "entry_id", r.ID, "error", err)
		}
	}
	conv := ResumeConversation(stored.BucketID, stored.SessionID, entries)
	conv.ID = stored.ID
	return conv, nil
}

// Record saves the conversation row and appends the turn's two entries.
func (l *Local) Record(conv *Conversation, reply Reply) error {
	topic := ""
	if existing, err := l.db.GetConversation(conv.ID); err == nil {
		topic = existing.Topic
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("loading conversation %s: %w", conv.ID, err)
	}
	if topic == "" {
		topic = topicFor(reply.Question.Content)
	}

	if err := l.db.SaveConversation(storage.Conversation{
		ID:        conv.ID,
		BucketID:  conv.BucketID,
		SessionID: conv.SessionID(),
		Topic:     topic,
	}); err != nil {
		return fmt.Errorf("saving conversation %s: %w", conv.ID, err)
	}

	for _, e := range []Entry{reply.Question, reply.Answer} {
		if e.Content == "" {
			continue
		}
		var cites string
		if len(e.Sources) > 0 {
			data, err := json.Marshal(e.Sources)
			if err != nil {
				return fmt.Errorf("encoding citations of %s: %w", conv.ID, err)
			}
			cites = string(data)
		}
		if err := l.db.AppendTranscript(storage.TranscriptEntry{
			ConversationID: conv.ID,
			Sender:         string(e.Sender),
			Content:        e.Content,
			Outcome:        string(e.Outcome),
			Sources:        cites,
			CreatedAt:      e.CreatedAt,
		}); err != nil {
			return fmt.Errorf("appending transcript of %s: %w", conv.ID, err)
		}
	}
	l.logger.Debug("conversation recorded", "conversation_id", conv.ID, "session_id", conv.SessionID(), "outcome", reply.Outcome)
	return nil
}

// Forget drops every local conversation bound to a backend session.
func (l *Local) Forget(sessionID string) error {
	return l.db.DeleteConversationsBySession(sessionID)
}
