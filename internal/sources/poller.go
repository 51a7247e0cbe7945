package sources

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPollAborted wraps a fetch error that makes further polling pointless.
var ErrPollAborted = errors.New("polling aborted")

// StatusFetcher fetches one Snapshot for a bucket.
type StatusFetcher interface {
	Status(ctx context.Context, bucketID string) (Snapshot, error)
}

// SettleReason says why a poll stopped.
type SettleReason string

const (
	FullyProcessed SettleReason = "fully_processed"
	PartiallyReady SettleReason = "partially_ready"
	PollLimit      SettleReason = "poll_limit"
)

// Result is the outcome of a settled poll. Snapshot is the last successful
// fetch and is zero if none succeeded.
type Result struct {
	Snapshot Snapshot
	Reason   SettleReason
	Polls    int
}

// PollerOptions configures a Poller. Zero values get defaults.
type PollerOptions struct {
	Interval   time.Duration
	MinElapsed time.Duration
	MaxPolls   int
	// Abort, when set, ends polling early for errors it returns true for.
	Abort  func(error) bool
	Logger *slog.Logger
}

// Poller repeatedly fetches a bucket's status until ingestion settles.
type Poller struct {
	fetcher    StatusFetcher
	interval   time.Duration
	minElapsed time.Duration
	maxPolls   int
	abort      func(error) bool
	logger     *slog.Logger
}

// NewPoller creates a Poller. Defaults: 4s interval, 20s before partial
// readiness counts as settled, 75 polls.
func NewPoller(fetcher StatusFetcher, opts PollerOptions) *Poller {
	p := &Poller{
		fetcher:    fetcher,
		interval:   opts.Interval,
		minElapsed: opts.MinElapsed,
		maxPolls:   opts.MaxPolls,
		abort:      opts.Abort,
		logger:     opts.Logger,
	}
	if p.interval <= 0 {
		p.interval = 4 * time.Second
	}
	if p.minElapsed <= 0 {
		p.minElapsed = 20 * time.Second
	}
	if p.maxPolls <= 0 {
		p.maxPolls = 75
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Poll fetches immediately and then once per interval until the bucket is
// fully processed, has a successful source after MinElapsed, or MaxPolls
// fetches have been made. Fetch errors are logged and polling continues.
//
// onSnapshot, if non-nil, receives every successfully fetched Snapshot.
// Poll returns ctx.Err() if ctx ends first.
func (p *Poller) Poll(ctx context.Context, bucketID string, onSnapshot func(Snapshot)) (Result, error) {
	start := time.Now()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var res Result
	for {
		res.Polls++
		snap, err := p.fetcher.Status(ctx, bucketID)
		switch {
		case err != nil && ctx.Err() != nil:
			return res, ctx.Err()
		case err != nil && p.abort != nil && p.abort(err):
			return res, errors.Join(ErrPollAborted, err)
		case err != nil:
			p.logger.Warn("source status poll failed", "bucket_id", bucketID, "poll", res.Polls, "error", err)
		default:
			res.Snapshot = snap
			if onSnapshot != nil {
				onSnapshot(snap)
			}
			if reason, ok := p.settled(snap, time.Since(start)); ok {
				res.Reason = reason
				p.logger.Debug("source status settled", "bucket_id", bucketID, "reason", reason, "polls", res.Polls)
				return res, nil
			}
		}

		if res.Polls >= p.maxPolls {
			res.Reason = PollLimit
			p.logger.Info("source status poll limit reached", "bucket_id", bucketID, "polls", res.Polls)
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) settled(snap Snapshot, elapsed time.Duration) (SettleReason, bool) {
	if snap.IsFullyProcessed {
		return FullyProcessed, true
	}
	if snap.Counts.Success > 0 && elapsed >= p.minElapsed {
		return PartiallyReady, true
	}
	return "", false
}

// State is the lifecycle of a Subscription.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateSettled
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSettled:
		return "settled"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Subscription is one subscriber's independent poll of a bucket.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	mu     sync.Mutex
	result Result
	err    error
}

// Subscribe starts polling bucketID in the background with its own timer.
// Two subscriptions to the same bucket poll independently; see Hub for a
// shared poll.
func (p *Poller) Subscribe(ctx context.Context, bucketID string, onSnapshot func(Snapshot)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		defer cancel()
		s.state.Store(int32(StatePolling))

		res, err := p.Poll(ctx, bucketID, onSnapshot)

		s.mu.Lock()
		s.result, s.err = res, err
		s.mu.Unlock()
		if err != nil {
			s.state.Store(int32(StateStopped))
			return
		}
		s.state.Store(int32(StateSettled))
	}()
	return s
}

// Stop cancels the poll and waits for it to exit. No fetch starts after Stop
// returns.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed when the poll has settled or stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Result returns the last result and the error that ended the poll, if any.
// It is only final once Done is closed.
func (s *Subscription) Result() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}
