package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePruneStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (s *fakePruneStore) DeleteCallsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return 3, s.err
}

func (s *fakePruneStore) calls() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.cutoffs...)
}

func TestCallLogPruner_Cutoff(t *testing.T) {
	t.Parallel()
	store := &fakePruneStore{}
	p := NewCallLogPruner(store, 24*time.Hour, time.Hour)
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.prune(context.Background())

	got := store.calls()
	if len(got) != 1 || !got[0].Equal(now.Add(-24*time.Hour)) {
		t.Errorf("cutoffs = %v, want [%v]", got, now.Add(-24*time.Hour))
	}
}

func TestCallLogPruner_ZeroRetentionKeepsAll(t *testing.T) {
	t.Parallel()
	store := &fakePruneStore{}
	p := NewCallLogPruner(store, 0, time.Hour)

	p.prune(context.Background())

	if n := len(store.calls()); n != 0 {
		t.Errorf("prune calls = %d, want 0", n)
	}
}

func TestCallLogPruner_RunPrunesOnStartAndTick(t *testing.T) {
	t.Parallel()
	store := &fakePruneStore{err: errors.New("locked")}
	p := NewCallLogPruner(store, time.Hour, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return len(store.calls()) >= 2 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, store errors must not stop the worker", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pruner did not stop after cancel")
	}
}
