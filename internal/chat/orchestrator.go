package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/bucketchat/internal/client"
	"github.com/kalambet/bucketchat/internal/sources"
)

// Replies shown instead of an answer.
const (
	NoSourcesMessage       = "This bucket has no sources yet. Add a web page, video, post or some text, then ask again once it has been processed."
	StillProcessingMessage = "Your sources are still being processed. Please try again in a moment."
	TimeoutMessage         = "Sorry, that took too long to answer. Please try again."
	ErrorMessage           = "Sorry, I encountered an error while answering. Please try again."
)

// ErrEmptyQuestion is returned for a blank question; nothing is sent.
var ErrEmptyQuestion = errors.New("question is empty")

const topicMaxRunes = 60

// State is a step of a turn.
type State string

const (
	StateComposing      State = "composing"
	StateReadinessCheck State = "readiness_check"
	StateAwaitSession   State = "await_session"
	StateAwaitInference State = "await_inference"
	StatePersisting     State = "persisting"
	StateDone           State = "done"
	StateError          State = "error"
)

// Backend is the chat API the orchestrator drives.
type Backend interface {
	CreateSession(ctx context.Context, bucketID, topic string) (string, error)
	PersistMessage(ctx context.Context, sessionID, content string, sender Sender) error
	Ask(ctx context.Context, bucketID, question string, history []Exchange) (Answer, error)
}

// Reply is the visible result of a turn.
type Reply struct {
	Text      string
	Sources   []Citation
	Outcome   Outcome
	SessionID string
	State     State
	// Question and Answer are the transcript entries the turn appended.
	Question Entry
	Answer   Entry
}

type Options struct {
	InferenceTimeout time.Duration
	HistoryTurns     int
	OnStateChange    func(*Conversation, State)
	Logger           *slog.Logger
}

// Orchestrator runs one turn at a time per conversation: readiness check,
// session creation, inference and persistence.
type Orchestrator struct {
	backend   Backend
	readiness sources.StatusFetcher
	timeout   time.Duration
	history   int
	onState   func(*Conversation, State)
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Defaults: 60s inference timeout,
// 4 exchanges of history.
func NewOrchestrator(backend Backend, readiness sources.StatusFetcher, opts Options) *Orchestrator {
	o := &Orchestrator{
		backend:   backend,
		readiness: readiness,
		timeout:   opts.InferenceTimeout,
		history:   opts.HistoryTurns,
		onState:   opts.OnStateChange,
		logger:    opts.Logger,
	}
	if o.timeout <= 0 {
		o.timeout = 60 * time.Second
	}
	if o.history <= 0 {
		o.history = 4
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Turn answers question within conv. Every failure except an expired session
// becomes an informational reply with a nil error. An expired session ends
// the turn in StateError and is returned.
func (o *Orchestrator) Turn(ctx context.Context, conv *Conversation, question string) (Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Reply{}, ErrEmptyQuestion
	}

	o.enter(conv, StateComposing)
	history := conv.History(o.history)
	reply := Reply{Question: conv.append(Entry{Sender: SenderUser, Content: question})}

	o.enter(conv, StateReadinessCheck)
	snap, err := o.readiness.Status(ctx, conv.BucketID)
	switch {
	case err != nil && client.IsSessionExpired(err):
		return o.fail(conv, reply, err)
	case err != nil:
		o.logger.Warn("readiness check failed, asking anyway", "bucket_id", conv.BucketID, "error", err)
	case snap.TotalSources == 0:
		return o.finish(conv, reply, NoSourcesMessage, NoSources, nil), nil
	case !snap.Ready() && snap.InFlight():
		return o.finish(conv, reply, StillProcessingMessage, StillProcessing, nil), nil
	}

	o.enter(conv, StateAwaitSession)
	sessionID := conv.SessionID()
	if sessionID == "" {
		id, err := o.backend.CreateSession(ctx, conv.BucketID, topicFor(question))
		switch {
		case err != nil && client.IsSessionExpired(err):
			return o.fail(conv, reply, err)
		case err != nil:
			o.logger.Warn("creating chat session failed, reply will not be saved", "bucket_id", conv.BucketID, "error", err)
		default:
			conv.setSessionID(id)
			sessionID = id
		}
	}

	o.enter(conv, StateAwaitInference)
	ictx, cancel := context.WithTimeout(ctx, o.timeout)
	answer, err := o.backend.Ask(ictx, conv.BucketID, question, history)
	timedOut := errors.Is(ictx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	if err != nil {
		switch {
		case client.IsSessionExpired(err):
			return o.fail(conv, reply, err)
		case ctx.Err() != nil:
			return o.fail(conv, reply, ctx.Err())
		case timedOut:
			o.logger.Warn("inference timed out", "bucket_id", conv.BucketID, "timeout", o.timeout)
			o.persist(ctx, conv, sessionID, question, "")
			return o.finish(conv, reply, TimeoutMessage, TimedOut, nil), nil
		default:
			o.logger.Error("inference failed", "bucket_id", conv.BucketID, "error", err)
			o.persist(ctx, conv, sessionID, question, "")
			return o.finish(conv, reply, ErrorMessage, Failed, nil), nil
		}
	}

	o.persist(ctx, conv, sessionID, question, answer.Text)
	reply.SessionID = sessionID
	return o.finish(conv, reply, answer.Text, Answered, answer.Sources), nil
}

// persist saves the question, then the answer when there is a genuine one.
// Canned replies pass an empty answer and stay local. Failures are only
// logged. Without a session nothing is saved.
func (o *Orchestrator) persist(ctx context.Context, conv *Conversation, sessionID, question, answer string) {
	o.enter(conv, StatePersisting)
	if sessionID == "" {
		return
	}
	if err := o.backend.PersistMessage(ctx, sessionID, question, SenderUser); err != nil {
		o.logger.Warn("persisting question failed", "session_id", sessionID, "error", err)
	}
	if answer == "" {
		return
	}
	if err := o.backend.PersistMessage(ctx, sessionID, answer, SenderAssistant); err != nil {
		o.logger.Warn("persisting answer failed", "session_id", sessionID, "error", err)
	}
}

func (o *Orchestrator) finish(conv *Conversation, reply Reply, text string, outcome Outcome, cites []Citation) Reply {
	reply.Answer = conv.append(Entry{Sender: SenderAssistant, Content: text, Outcome: outcome, Sources: cites})
	reply.Text = text
	reply.Sources = cites
	reply.Outcome = outcome
	if reply.SessionID == "" {
		reply.SessionID = conv.SessionID()
	}
	reply.State = StateDone
	o.enter(conv, StateDone)
	return reply
}

func (o *Orchestrator) fail(conv *Conversation, reply Reply, err error) (Reply, error) {
	reply.SessionID = conv.SessionID()
	reply.State = StateError
	o.enter(conv, StateError)
	return reply, fmt.Errorf("chat turn: %w", err)
}

func (o *Orchestrator) enter(conv *Conversation, s State) {
	o.logger.Debug("chat turn state", "bucket_id", conv.BucketID, "state", s)
	if o.onState != nil {
		o.onState(conv, s)
	}
}

// topicFor is the question cut to topicMaxRunes runes.
func topicFor(question string) string {
	r := []rune(question)
	if len(r) <= topicMaxRunes {
		return question
	}
	return string(r[:topicMaxRunes])
}
