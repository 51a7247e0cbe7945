package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// Requester is the subset of the request pipeline the API needs.
type Requester interface {
	GetJSON(ctx context.Context, path string, out any) error
	PostJSON(ctx context.Context, path string, body, out any) error
	DeleteJSON(ctx context.Context, path string, out any) error
}

// API wraps the chat endpoints of the backend.
type API struct {
	req Requester
}

func NewAPI(req Requester) *API {
	return &API{req: req}
}

type createSessionRequest struct {
	BucketID string `json:"bucketId"`
	Topic    string `json:"topic"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (a *API) CreateSession(ctx context.Context, bucketID, topic string) (string, error) {
	var resp createSessionResponse
	if err := a.req.PostJSON(ctx, "/chat/sessions", createSessionRequest{BucketID: bucketID, Topic: topic}, &resp); err != nil {
		return "", fmt.Errorf("creating chat session: %w", err)
	}
	if resp.SessionID == "" {
		return "", errors.New("creating chat session: response has no sessionId")
	}
	return resp.SessionID, nil
}

type persistRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Sender    Sender `json:"sender"`
}

func (a *API) PersistMessage(ctx context.Context, sessionID, content string, sender Sender) error {
	if err := a.req.PostJSON(ctx, "/chat/messages", persistRequest{SessionID: sessionID, Message: content, Sender: sender}, nil); err != nil {
		return fmt.Errorf("persisting %s message: %w", sender, err)
	}
	return nil
}

type askRequest struct {
	BucketID    string     `json:"bucketId"`
	Question    string     `json:"question"`
	ChatHistory []Exchange `json:"chatHistory"`
}

func (a *API) Ask(ctx context.Context, bucketID, question string, history []Exchange) (Answer, error) {
	if history == nil {
		history = []Exchange{}
	}
	var ans Answer
	if err := a.req.PostJSON(ctx, "/chat/ask", askRequest{BucketID: bucketID, Question: question, ChatHistory: history}, &ans); err != nil {
		return Answer{}, fmt.Errorf("asking bucket %s: %w", bucketID, err)
	}
	return ans, nil
}

// ListSessions returns the sessions of a bucket, newest first.
func (a *API) ListSessions(ctx context.Context, bucketID string) ([]Session, error) {
	var sessions []Session
	if err := a.req.GetJSON(ctx, "/chat/sessions?bucketId="+url.QueryEscape(bucketID), &sessions); err != nil {
		return nil, fmt.Errorf("listing chat sessions: %w", err)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Messages returns a session's messages in ascending creation order.
func (a *API) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := a.req.GetJSON(ctx, "/chat/sessions/"+url.PathEscape(sessionID)+"/messages", &msgs); err != nil {
		return nil, fmt.Errorf("loading chat messages: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (a *API) DeleteSession(ctx context.Context, sessionID string) error {
	if err := a.req.DeleteJSON(ctx, "/chat/sessions/"+url.PathEscape(sessionID), nil); err != nil {
		return fmt.Errorf("deleting chat session: %w", err)
	}
	return nil
}
