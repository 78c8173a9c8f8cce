package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	gateway "github.com/eugener/marketgate/internal"
)

type fakeCallStore struct {
	mu      sync.Mutex
	batches [][]gateway.UpstreamCall
}

func (s *fakeCallStore) InsertCalls(_ context.Context, calls []gateway.UpstreamCall) error {
	s.mu.Lock()
	s.batches = append(s.batches, calls)
	s.mu.Unlock()
	return nil
}

func (s *fakeCallStore) totalRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *fakeCallStore) all() []gateway.UpstreamCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []gateway.UpstreamCall
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestCallRecorder_BatchOnSize(t *testing.T) {
	t.Parallel()
	store := &fakeCallStore{}
	rec := NewCallRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	for range callBatchSize {
		rec.Record(gateway.UpstreamCall{Provider: "coingecko", Endpoint: "markets"})
	}

	waitFor(t, 2*time.Second, func() bool { return store.totalRecords() >= callBatchSize })

	cancel()
	<-done

	for _, c := range store.all() {
		if c.ID == "" {
			t.Fatal("flush should assign IDs")
		}
	}
}

func TestCallRecorder_FlushOnTick(t *testing.T) {
	t.Parallel()
	store := &fakeCallStore{}
	rec := NewCallRecorder(store, nil)
	rec.flushEvery = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.Record(gateway.UpstreamCall{ID: "c-1"})
	rec.Record(gateway.UpstreamCall{ID: "c-2"})

	waitFor(t, 2*time.Second, func() bool { return store.totalRecords() >= 2 })

	cancel()
	<-done
}

func TestCallRecorder_DropOnFull(t *testing.T) {
	t.Parallel()
	store := &fakeCallStore{}
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_queue"})
	rec := &CallRecorder{
		ch:         make(chan gateway.UpstreamCall, 2), // tiny buffer
		store:      store,
		flushEvery: time.Hour,
		queueLen:   gauge,
	}

	rec.Record(gateway.UpstreamCall{ID: "1"})
	rec.Record(gateway.UpstreamCall{ID: "2"})
	// This should be dropped silently.
	rec.Record(gateway.UpstreamCall{ID: "3"})

	if len(rec.ch) != 2 {
		t.Errorf("channel len = %d, want 2", len(rec.ch))
	}
	if got := promtest.ToFloat64(gauge); got != 2 {
		t.Errorf("queue gauge = %v, want 2", got)
	}
}

func TestCallRecorder_DrainOnCancel(t *testing.T) {
	t.Parallel()
	store := &fakeCallStore{}
	rec := NewCallRecorder(store, nil)
	rec.flushEvery = time.Hour

	for i := range 5 {
		rec.Record(gateway.UpstreamCall{ID: string(rune('a' + i))})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := store.totalRecords(); got != 5 {
		t.Errorf("drained = %d, want 5", got)
	}
}
