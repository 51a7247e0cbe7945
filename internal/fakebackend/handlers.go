package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodySize = 10 << 20

type statusResponse struct {
	TotalSources  int            `json:"totalSources"`
	StatusSummary map[string]int `json:"statusSummary"`
	Sources       struct {
		Pending    []Source `json:"pending"`
		Processing []Source `json:"processing"`
		Success    []Source `json:"success"`
		Failed     []Source `json:"failed"`
	} `json:"sources"`
}

// handleStatus reports the bucket and then advances every simulated source.
func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	bucketID := chi.URLParam(r, "bucketID")

	b.mu.Lock()
	var resp statusResponse
	resp.StatusSummary = map[string]int{"pending": 0, "processing": 0, "success": 0, "failed": 0}
	for _, s := range b.sources[bucketID] {
		resp.TotalSources++
		resp.StatusSummary[s.Status]++
		switch s.Status {
		case "pending":
			resp.Sources.Pending = append(resp.Sources.Pending, *s)
		case "processing":
			resp.Sources.Processing = append(resp.Sources.Processing, *s)
		case "success":
			resp.Sources.Success = append(resp.Sources.Success, *s)
		case "failed":
			resp.Sources.Failed = append(resp.Sources.Failed, *s)
		}
		b.advance(s)
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

type submitRequest struct {
	URL          string `json:"url"`
	Content      string `json:"content"`
	BucketID     string `json:"bucketId"`
	ChunkSize    int    `json:"chunkSize"`
	ChunkOverlap int    `json:"chunkOverlap"`
}

func (b *Backend) handleSubmit(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.BucketID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "bucketId is required")
			return
		}
		if kind == "text" && req.Content == "" || kind != "text" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "nothing to ingest")
			return
		}
		if req.ChunkOverlap >= req.ChunkSize && req.ChunkSize > 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "chunkOverlap must be smaller than chunkSize")
			return
		}

		s := &Source{ID: uuid.NewString(), BucketID: req.BucketID, OriginURL: req.URL, Status: "pending"}
		b.mu.Lock()
		b.sources[req.BucketID] = append(b.sources[req.BucketID], s)
		b.mu.Unlock()

		b.logger.Debug("fake source submitted", "bucket_id", req.BucketID, "kind", kind, "source_id", s.ID)
		writeJSON(w, http.StatusAccepted, map[string]string{"sourceId": s.ID, "status": s.Status})
	}
}

func (b *Backend) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BucketID string `json:"bucketId"`
		Topic    string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BucketID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "bucketId is required")
		return
	}

	s := &session{ID: uuid.NewString(), BucketID: req.BucketID, Topic: req.Topic, CreatedAt: time.Now().UTC(), owner: subject(r)}
	b.mu.Lock()
	b.sessions[s.ID] = s
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": s.ID})
}

func (b *Backend) handleListSessions(w http.ResponseWriter, r *http.Request) {
	bucketID := r.URL.Query().Get("bucketId")
	owner := subject(r)

	b.mu.Lock()
	out := []session{}
	for _, s := range b.sessions {
		if s.owner == owner && (bucketID == "" || s.BucketID == bucketID) {
			out = append(out, *s)
		}
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	s, ok := b.sessions[id]
	msgs := append([]message{}, b.messages[id]...)
	b.mu.Unlock()

	if !ok || s.owner != subject(r) {
		httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (b *Backend) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	s, ok := b.sessions[id]
	if ok && s.owner == subject(r) {
		delete(b.sessions, id)
		delete(b.messages, id)
	}
	b.mu.Unlock()

	if !ok || s.owner != subject(r) {
		httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handlePersistMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
		Sender    string `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.Sender != "user" && req.Sender != "assistant" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "sender must be user or assistant")
		return
	}

	b.mu.Lock()
	s, ok := b.sessions[req.SessionID]
	if ok && s.owner == subject(r) {
		b.messages[req.SessionID] = append(b.messages[req.SessionID], message{
			SessionID: req.SessionID, Sender: req.Sender, Content: req.Message, CreatedAt: time.Now().UTC(),
		})
	}
	b.mu.Unlock()

	if !ok || s.owner != subject(r) {
		httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", req.SessionID)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

func (b *Backend) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BucketID    string     `json:"bucketId"`
		Question    string     `json:"question"`
		ChatHistory []Exchange `json:"chatHistory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BucketID == "" || req.Question == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "bucketId and question are required")
		return
	}

	b.mu.Lock()
	delay := b.inferenceDelay
	var ready []Source
	for _, s := range b.sources[req.BucketID] {
		if s.Status == "success" {
			ready = append(ready, *s)
		}
	}
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	answer, urls := b.answer(req.BucketID, req.Question, req.ChatHistory, ready)
	writeJSON(w, http.StatusOK, map[string]any{"answer": answer, "sources": urls})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
