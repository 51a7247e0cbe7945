package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const conversationColumns = `id, bucket_id, session_id, topic, created_at, updated_at`

// SaveConversation inserts the conversation or updates its session id, topic
// and updated_at when it already exists.
func (s *Store) SaveConversation(c Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, bucket_id, session_id, topic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			topic = excluded.topic,
			updated_at = excluded.updated_at`,
		c.ID, c.BucketID, c.SessionID, c.Topic,
		c.CreatedAt.UTC().Format(timeLayout), now.Format(timeLayout),
	)
	return err
}

func (s *Store) GetConversation(id string) (Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// LatestConversation returns the most recently updated conversation for bucketID.
func (s *Store) LatestConversation(bucketID string) (Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations
		WHERE bucket_id = ? ORDER BY updated_at DESC, rowid DESC LIMIT 1`, bucketID)
	return scanConversation(row)
}

// DeleteConversationsBySession removes every local conversation bound to
// sessionID along with its transcript.
func (s *Store) DeleteConversationsBySession(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM transcript WHERE conversation_id IN
		(SELECT id FROM conversations WHERE session_id = ?)`, sessionID); err != nil {
		return fmt.Errorf("deleting transcript: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting conversations: %w", err)
	}
	return tx.Commit()
}

func (s *Store) AppendTranscript(e TranscriptEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO transcript (conversation_id, sender, content, outcome, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ConversationID, e.Sender, e.Content, e.Outcome, e.Sources, e.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

// Transcript returns the last limit entries of a conversation in ascending
// order. A limit <= 0 returns the whole transcript.
func (s *Store) Transcript(conversationID string, limit int) ([]TranscriptEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender, content, outcome, sources, created_at FROM (
			SELECT * FROM transcript WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Sender, &e.Content, &e.Outcome, &e.Sources, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func scanConversation(row *sql.Row) (Conversation, error) {
	var c Conversation
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.BucketID, &c.SessionID, &c.Topic, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}
