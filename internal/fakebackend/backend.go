// Package fakebackend is an in-memory stand-in for the bucket backend and
// its identity provider. Tests and `bucketchat dev-backend` use it.
package fakebackend

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AnswerFunc produces an answer and its sources for a question.
type AnswerFunc func(bucketID, question string, history []Exchange, ready []Source) (string, []string)

type Options struct {
	// Secret signs access tokens. A random one is generated when empty.
	Secret []byte
	// AccessTTL is the lifetime of issued access tokens. Default 1h.
	AccessTTL time.Duration
	// ProcessingReads is how many status reads a new source spends in each
	// of pending and processing before it succeeds. Default 1.
	ProcessingReads int
	// InferenceDelay is slept before every answer.
	InferenceDelay time.Duration
	Answer         AnswerFunc
	Logger         *slog.Logger
}

// Source is a stored source plus its simulated progress.
type Source struct {
	ID            string `json:"id"`
	BucketID      string `json:"bucketId"`
	OriginURL     string `json:"originUrl,omitempty"`
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`

	reads int
}

type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type session struct {
	ID        string    `json:"id"`
	BucketID  string    `json:"bucketId"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"createdAt"`
	owner     string
}

type message struct {
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Backend holds all fake state behind one mutex.
type Backend struct {
	secret          []byte
	accessTTL       time.Duration
	processingReads int
	answer          AnswerFunc
	logger          *slog.Logger

	mu             sync.Mutex
	inferenceDelay time.Duration
	generation     int
	users          map[string]string // email -> password
	refreshTokens  map[string]string // refresh token -> email
	sources        map[string][]*Source
	sessions       map[string]*session
	messages       map[string][]message
	calls          map[string]int
}

func New(opts Options) *Backend {
	b := &Backend{
		secret:          opts.Secret,
		accessTTL:       opts.AccessTTL,
		processingReads: opts.ProcessingReads,
		inferenceDelay:  opts.InferenceDelay,
		answer:          opts.Answer,
		logger:          opts.Logger,
		users:           make(map[string]string),
		refreshTokens:   make(map[string]string),
		sources:         make(map[string][]*Source),
		sessions:        make(map[string]*session),
		messages:        make(map[string][]message),
		calls:           make(map[string]int),
	}
	if len(b.secret) == 0 {
		b.secret = []byte(uuid.NewString())
	}
	if b.accessTTL <= 0 {
		b.accessTTL = time.Hour
	}
	if b.processingReads <= 0 {
		b.processingReads = 1
	}
	if b.answer == nil {
		b.answer = defaultAnswer
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Handler serves the identity provider under /auth/v1 and the bucket API at
// the root.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(b.countCalls)

	r.Route("/auth/v1", func(r chi.Router) {
		r.Post("/token", b.handleToken)
		r.Post("/logout", b.handleLogout)
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(b.verify))

		r.Get("/sources/status/{bucketID}", b.handleStatus)
		r.Post("/sources/url", b.handleSubmit("web"))
		r.Post("/sources/youtube", b.handleSubmit("video"))
		r.Post("/sources/tweet", b.handleSubmit("social"))
		r.Post("/sources/text", b.handleSubmit("text"))

		r.Post("/chat/sessions", b.handleCreateSession)
		r.Get("/chat/sessions", b.handleListSessions)
		r.Get("/chat/sessions/{id}/messages", b.handleListMessages)
		r.Delete("/chat/sessions/{id}", b.handleDeleteSession)
		r.Post("/chat/messages", b.handlePersistMessage)
		r.Post("/chat/ask", b.handleAsk)
	})

	return r
}

func (b *Backend) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[r.Method+" "+r.URL.Path]++
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Calls reports how many requests hit method and path, e.g. "POST /chat/ask".
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// AddUser registers an account for the password grant.
func (b *Backend) AddUser(email, password string) {
	b.mu.Lock()
	b.users[email] = password
	b.mu.Unlock()
}

// AddSource stores a source in a fixed status. Sources added this way do
// not progress.
func (b *Backend) AddSource(bucketID, originURL, status string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Source{ID: uuid.NewString(), BucketID: bucketID, OriginURL: originURL, Status: status, reads: -1}
	b.sources[bucketID] = append(b.sources[bucketID], s)
	return s.ID
}

// RevokeAccessTokens makes every access token issued so far fail with 401.
// Refresh tokens stay valid.
func (b *Backend) RevokeAccessTokens() {
	b.mu.Lock()
	b.generation++
	b.mu.Unlock()
}

// RevokeRefreshTokens makes every outstanding refresh token invalid.
func (b *Backend) RevokeRefreshTokens() {
	b.mu.Lock()
	clear(b.refreshTokens)
	b.mu.Unlock()
}

func (b *Backend) SetInferenceDelay(d time.Duration) {
	b.mu.Lock()
	b.inferenceDelay = d
	b.mu.Unlock()
}

// Messages returns the persisted messages of a session in creation order.
func (b *Backend) Messages(sessionID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.messages[sessionID] {
		out = append(out, m.Sender+": "+m.Content)
	}
	return out
}

// advance moves a simulated source one step along
// pending -> processing -> success.
func (b *Backend) advance(s *Source) {
	if s.reads < 0 {
		return
	}
	s.reads++
	switch {
	case s.Status == "pending" && s.reads >= b.processingReads:
		s.Status, s.reads = "processing", 0
	case s.Status == "processing" && s.reads >= b.processingReads:
		s.Status = "success"
	}
}

func defaultAnswer(bucketID, question string, history []Exchange, ready []Source) (string, []string) {
	urls := make([]string, 0, len(ready))
	for _, s := range ready {
		if s.OriginURL != "" {
			urls = append(urls, s.OriginURL)
		}
	}
	sort.Strings(urls)
	return fmt.Sprintf("You asked %q about bucket %s. %d source(s) are ready and %d earlier exchange(s) were considered.",
		question, bucketID, len(ready), len(history)), urls
}
