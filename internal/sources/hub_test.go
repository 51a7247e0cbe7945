package sources

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestHub_SharesOnePollPerBucket(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{{snap: snapshot(1, 0, 0, 0)}}}
	hub := NewHub(NewPoller(f, PollerOptions{Interval: time.Hour}))
	defer hub.Close()

	var gotA, gotB atomic.Int32
	a := hub.Subscribe("b1", func(Snapshot) { gotA.Add(1) })
	time.Sleep(20 * time.Millisecond)
	b := hub.Subscribe("b1", func(Snapshot) { gotB.Add(1) })

	if n := f.calls.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1 shared fetch", n)
	}
	if gotA.Load() != 1 {
		t.Errorf("first subscriber snapshots = %d, want 1", gotA.Load())
	}
	if gotB.Load() != 1 {
		t.Errorf("late subscriber should get the last snapshot, got %d", gotB.Load())
	}
	if hub.Active() != 1 {
		t.Errorf("Active = %d, want 1", hub.Active())
	}

	a.Unsubscribe()
	if hub.Active() != 1 {
		t.Errorf("poll stopped while a subscriber remained")
	}
	b.Unsubscribe()
	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("shared poll not cancelled after last unsubscribe")
	}
	if hub.Active() != 0 {
		t.Errorf("Active = %d, want 0", hub.Active())
	}
}

func TestHub_SettledPollIsReleased(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{{snap: snapshot(0, 0, 2, 0)}}}
	hub := NewHub(NewPoller(f, PollerOptions{Interval: time.Millisecond}))
	defer hub.Close()

	sub := hub.Subscribe("b1", nil)
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("poll did not settle")
	}
	res, err := sub.Result()
	if err != nil || res.Reason != FullyProcessed {
		t.Errorf("Result = %+v, %v", res, err)
	}
	if hub.Active() != 0 {
		t.Errorf("Active = %d, want 0 after settle", hub.Active())
	}

	// A new subscriber starts a fresh poll.
	again := hub.Subscribe("b1", nil)
	<-again.Done()
	if n := f.calls.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
}
