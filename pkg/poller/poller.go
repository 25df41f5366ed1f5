// Package poller pulls daemon updates on an interval for deployments where
// the daemon cannot push to the bridge.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/msgbridge/pkg/bridge"
	"github.com/mahaj/msgbridge/pkg/metrics"
	"github.com/mahaj/msgbridge/pkg/timecodec"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

type Source interface {
	Updates(ctx context.Context, since int64) (upstream.Updates, error)
}

type Sink interface {
	Ingest(ctx context.Context, u upstream.Updates) bridge.IngestResult
}

type Poller struct {
	src      Source
	sink     Sink
	interval time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics

	busy     atomic.Bool
	cursor   atomic.Int64
	inflight sync.WaitGroup
}

// New starts the cursor at start, in client millis.
func New(src Source, sink Sink, interval time.Duration, start time.Time, log zerolog.Logger, m *metrics.Metrics) *Poller {
	p := &Poller{
		src:      src,
		sink:     sink,
		interval: interval,
		log:      log.With().Str("component", "poller").Logger(),
		metrics:  m,
	}
	p.cursor.Store(start.UnixMilli())
	return p
}

// Cursor returns the newest message date seen, in client millis.
func (p *Poller) Cursor() int64 {
	return p.cursor.Load()
}

// Run polls until ctx is done. A tick that fires while the previous poll is
// still running is skipped.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	p.log.Info().Dur("interval", p.interval).Msg("polling daemon for updates")

	for {
		select {
		case <-ctx.Done():
			p.inflight.Wait()
			return nil
		case <-t.C:
			if !p.busy.CompareAndSwap(false, true) {
				p.metrics.PollSkipped()
				p.log.Debug().Msg("previous poll still running, skipping tick")
				continue
			}
			p.inflight.Add(1)
			go func() {
				defer p.inflight.Done()
				defer p.busy.Store(false)
				p.poll(ctx)
			}()
		}
	}
}

// Poll runs one poll synchronously.
func (p *Poller) Poll(ctx context.Context) (bridge.IngestResult, error) {
	since := p.cursor.Load()
	u, err := p.src.Updates(ctx, timecodec.ToUpstream(since))
	if err != nil {
		return bridge.IngestResult{}, err
	}
	if u.Empty() {
		return bridge.IngestResult{}, nil
	}
	res := p.sink.Ingest(ctx, u)
	if res.Newest > since {
		p.cursor.CompareAndSwap(since, res.Newest)
	}
	return res, nil
}

func (p *Poller) poll(ctx context.Context) {
	res, err := p.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.PollFailed()
		p.log.Warn().Err(err).Msg("poll failed")
		return
	}
	if res.Broadcast > 0 || res.Duplicates > 0 {
		p.log.Debug().Int("broadcast", res.Broadcast).Int("duplicates", res.Duplicates).Int64("cursor", p.Cursor()).Msg("poll delivered updates")
	}
}
