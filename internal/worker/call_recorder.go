package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	gateway "github.com/eugener/marketgate/internal"
)

const (
	callChanSize   = 1000
	callBatchSize  = 100
	callFlushEvery = 5 * time.Second
	callDrainTime  = 30 * time.Second
)

// CallStore is the persistence interface consumed by CallRecorder.
type CallStore interface {
	InsertCalls(ctx context.Context, calls []gateway.UpstreamCall) error
}

// CallRecorder buffers upstream call records and batch-flushes them to the
// store. Records are dropped if the channel is full.
type CallRecorder struct {
	ch         chan gateway.UpstreamCall
	store      CallStore
	flushEvery time.Duration
	queueLen   prometheus.Gauge // nil when metrics are disabled
}

// NewCallRecorder creates a CallRecorder backed by store. queueLen may be nil.
func NewCallRecorder(store CallStore, queueLen prometheus.Gauge) *CallRecorder {
	return &CallRecorder{
		ch:         make(chan gateway.UpstreamCall, callChanSize),
		store:      store,
		flushEvery: callFlushEvery,
		queueLen:   queueLen,
	}
}

func (c *CallRecorder) Name() string { return "call_recorder" }

// Record enqueues a call record. It never blocks; drops on full channel.
func (c *CallRecorder) Record(call gateway.UpstreamCall) {
	select {
	case c.ch <- call:
		c.observeQueue()
	default:
		slog.Warn("upstream call record dropped, channel full")
	}
}

// Run processes records until ctx is cancelled, then drains remaining records.
func (c *CallRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.flushEvery)
	defer ticker.Stop()

	buf := make([]gateway.UpstreamCall, 0, callBatchSize)

	for {
		select {
		case r := <-c.ch:
			buf = append(buf, r)
			if len(buf) >= callBatchSize {
				c.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				c.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			c.drain(buf)
			return nil
		}
	}
}

func (c *CallRecorder) drain(buf []gateway.UpstreamCall) {
	ctx, cancel := context.WithTimeout(context.Background(), callDrainTime)
	defer cancel()

	for {
		select {
		case r := <-c.ch:
			buf = append(buf, r)
			if len(buf) >= callBatchSize {
				c.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				c.flush(ctx, buf)
			}
			return
		}
	}
}

func (c *CallRecorder) flush(ctx context.Context, buf []gateway.UpstreamCall) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]gateway.UpstreamCall, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := c.store.InsertCalls(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "call log flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	c.observeQueue()
}

func (c *CallRecorder) observeQueue() {
	if c.queueLen != nil {
		c.queueLen.Set(float64(len(c.ch)))
	}
}
