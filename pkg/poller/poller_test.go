package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/msgbridge/pkg/bridge"
	"github.com/mahaj/msgbridge/pkg/metrics"
	"github.com/mahaj/msgbridge/pkg/shape"
	"github.com/mahaj/msgbridge/pkg/timecodec"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

type fakeSource struct {
	mu      sync.Mutex
	since   []int64
	updates upstream.Updates
	err     error
	block   chan struct{}
	calls   atomic.Int32
}

func (f *fakeSource) Updates(ctx context.Context, since int64) (upstream.Updates, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.since = append(f.since, since)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return f.updates, f.err
}

type fakeSink struct {
	mu      sync.Mutex
	batches []upstream.Updates
	newest  int64
}

func (f *fakeSink) Ingest(_ context.Context, u upstream.Updates) bridge.IngestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, u)
	return bridge.IngestResult{Broadcast: len(u.Messages), Newest: f.newest}
}

func TestPollConvertsCursorAndAdvances(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	src := &fakeSource{updates: upstream.Updates{Messages: []shape.Record{{"guid": "m1"}}}}
	sink := &fakeSink{newest: 1700000005000}
	p := New(src, sink, time.Second, start, zerolog.Nop(), nil)

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Broadcast)
	assert.Equal(t, timecodec.ToUpstream(1700000000000), src.since[0])
	assert.Equal(t, int64(1700000005000), p.Cursor())

	// An older batch never moves the cursor back.
	sink.newest = 1600000000000
	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, timecodec.ToUpstream(1700000005000), src.since[1])
	assert.Equal(t, int64(1700000005000), p.Cursor())
}

func TestPollSkipsEmptyBatches(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	p := New(src, sink, time.Second, time.Now(), zerolog.Nop(), nil)
	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sink.batches)
}

func TestPollReturnsSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("daemon down")}
	p := New(src, &fakeSink{}, time.Second, time.Now(), zerolog.Nop(), nil)
	_, err := p.Poll(context.Background())
	assert.Error(t, err)
}

func TestRunSkipsOverlappingTicks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	src := &fakeSource{block: make(chan struct{})}
	p := New(src, &fakeSink{}, 5*time.Millisecond, time.Now(), zerolog.Nop(), m)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return counterValue(t, reg, "msgbridge_poll_skipped_total") >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), src.calls.Load(), "only one poll runs at a time")

	close(src.block)
	cancel()
	require.NoError(t, <-errc)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
