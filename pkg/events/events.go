// Package events forwards bridge events to out-of-band sinks such as
// webhooks and a Kafka topic. Delivery is best effort.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/msgbridge/pkg/metrics"
)

const defaultPublishTimeout = 5 * time.Second

// Event is the payload handed to every sink.
type Event struct {
	Event     string `json:"event"`
	ChatGUID  string `json:"chatGuid,omitempty"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Notifier fans events out to its sinks without blocking the caller.
type Notifier struct {
	sinks   []Sink
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
	nowFn   func() time.Time

	wg sync.WaitGroup
}

func NewNotifier(log zerolog.Logger, m *metrics.Metrics, sinks ...Sink) *Notifier {
	return &Notifier{
		sinks:   sinks,
		timeout: defaultPublishTimeout,
		log:     log.With().Str("component", "events").Logger(),
		metrics: m,
		nowFn:   time.Now,
	}
}

func (n *Notifier) Sinks() int {
	return len(n.sinks)
}

// Notify publishes ev to every sink on its own goroutine. Failures are
// logged and counted, never returned.
func (n *Notifier) Notify(event, chatGUID string, data any) {
	if len(n.sinks) == 0 {
		return
	}
	ev := Event{Event: event, ChatGUID: chatGUID, Data: data, Timestamp: n.nowFn().UnixMilli()}
	for _, s := range n.sinks {
		n.wg.Add(1)
		go func(s Sink) {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()
			if err := s.Publish(ctx, ev); err != nil {
				n.metrics.SinkFailed(s.Name())
				lvl := zerolog.DebugLevel
				if errors.Is(err, context.DeadlineExceeded) {
					lvl = zerolog.WarnLevel
				}
				n.log.WithLevel(lvl).Err(err).Str("sink", s.Name()).Str("event", event).Msg("sink publish failed")
			}
		}(s)
	}
}

// Wait blocks until in-flight publishes have returned.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Close waits for in-flight publishes and closes sinks that hold resources.
func (n *Notifier) Close() error {
	n.Wait()
	var errs []error
	for _, s := range n.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
