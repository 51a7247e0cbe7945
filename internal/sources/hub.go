package sources

import (
	"context"
	"sync"
)

// Hub shares one poll per bucket among any number of subscribers. The poll
// starts with the first subscriber and stops when it settles or when the
// last subscriber leaves.
type Hub struct {
	poller *Poller

	mu    sync.Mutex
	polls map[string]*sharedPoll
}

type sharedPoll struct {
	cancel context.CancelFunc
	done   chan struct{}
	subs   map[int]func(Snapshot)
	nextID int
	last   *Snapshot
	result Result
	err    error
}

func NewHub(poller *Poller) *Hub {
	return &Hub{poller: poller, polls: make(map[string]*sharedPoll)}
}

// HubSubscription is a handle on a shared poll.
type HubSubscription struct {
	hub      *Hub
	bucketID string
	poll     *sharedPoll
	id       int
	once     sync.Once
}

// Subscribe registers fn for snapshots of bucketID. A late subscriber
// immediately receives the most recent snapshot.
func (h *Hub) Subscribe(bucketID string, fn func(Snapshot)) *HubSubscription {
	h.mu.Lock()
	sp, ok := h.polls[bucketID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sp = &sharedPoll{cancel: cancel, done: make(chan struct{}), subs: make(map[int]func(Snapshot))}
		h.polls[bucketID] = sp
		go h.run(ctx, bucketID, sp)
	}
	id := sp.nextID
	sp.nextID++
	sp.subs[id] = fn
	last := sp.last
	h.mu.Unlock()

	if last != nil && fn != nil {
		fn(*last)
	}
	return &HubSubscription{hub: h, bucketID: bucketID, poll: sp, id: id}
}

func (h *Hub) run(ctx context.Context, bucketID string, sp *sharedPoll) {
	res, err := h.poller.Poll(ctx, bucketID, func(snap Snapshot) {
		h.mu.Lock()
		sp.last = &snap
		fns := make([]func(Snapshot), 0, len(sp.subs))
		for _, fn := range sp.subs {
			if fn != nil {
				fns = append(fns, fn)
			}
		}
		h.mu.Unlock()
		for _, fn := range fns {
			fn(snap)
		}
	})

	h.mu.Lock()
	sp.result, sp.err = res, err
	if h.polls[bucketID] == sp {
		delete(h.polls, bucketID)
	}
	h.mu.Unlock()
	sp.cancel()
	close(sp.done)
}

// Active reports how many buckets currently have a running poll.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.polls)
}

// Close stops every running poll.
func (h *Hub) Close() {
	h.mu.Lock()
	polls := make([]*sharedPoll, 0, len(h.polls))
	for _, sp := range h.polls {
		polls = append(polls, sp)
	}
	h.mu.Unlock()
	for _, sp := range polls {
		sp.cancel()
		<-sp.done
	}
}

// Unsubscribe removes this subscriber. The shared poll is cancelled when no
// subscribers remain.
func (s *HubSubscription) Unsubscribe() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		delete(s.poll.subs, s.id)
		last := len(s.poll.subs) == 0
		if last && h.polls[s.bucketID] == s.poll {
			delete(h.polls, s.bucketID)
		}
		h.mu.Unlock()
		if last {
			s.poll.cancel()
		}
	})
}

// Done is closed when the shared poll has settled or was cancelled.
func (s *HubSubscription) Done() <-chan struct{} {
	return s.poll.done
}

// Result is final once Done is closed.
func (s *HubSubscription) Result() (Result, error) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.poll.result, s.poll.err
}
