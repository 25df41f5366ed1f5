package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/msgbridge/pkg/metrics"
)

const fanoutPublishTimeout = 5 * time.Second

type fanoutWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type fanoutReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// fanoutRecord is what travels between replicas.
type fanoutRecord struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Fanout spreads broadcasts across bridge replicas through a Kafka topic.
// Each broadcast is delivered to local connections immediately and published
// for the other replicas, which deliver it to theirs.
type Fanout struct {
	hub    *Hub
	origin string
	w      fanoutWriter
	r      fanoutReader
	log    zerolog.Logger
	m      *metrics.Metrics
	retry  time.Duration
}

// NewFanoutWriter returns an async writer so broadcasts never wait on the
// brokers.
func NewFanoutWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
	}
}

// NewFanoutReader joins a consumer group unique to origin so every replica
// sees every record.
func NewFanoutReader(brokers []string, topic, origin string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "msgbridge-fanout-" + origin,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})
}

func NewFanout(hub *Hub, origin string, w fanoutWriter, r fanoutReader, log zerolog.Logger, m *metrics.Metrics) *Fanout {
	return &Fanout{
		hub:    hub,
		origin: origin,
		w:      w,
		r:      r,
		log:    log.With().Str("component", "fanout").Str("origin", origin).Logger(),
		m:      m,
		retry:  time.Second,
	}
}

// Broadcast delivers locally and publishes for the other replicas. The
// returned count covers local connections only.
func (f *Fanout) Broadcast(room, event string, data any) int {
	n := f.hub.Broadcast(room, event, data)

	raw, err := json.Marshal(data)
	if err != nil {
		f.log.Error().Err(err).Str("event", event).Msg("failed to encode fanout record")
		return n
	}
	value, err := json.Marshal(fanoutRecord{Origin: f.origin, Room: room, Event: event, Data: raw})
	if err != nil {
		f.log.Error().Err(err).Str("event", event).Msg("failed to encode fanout record")
		return n
	}
	ctx, cancel := context.WithTimeout(context.Background(), fanoutPublishTimeout)
	defer cancel()
	if err := f.w.WriteMessages(ctx, kafka.Message{Key: []byte(room), Value: value, Time: time.Now()}); err != nil {
		f.m.SinkFailed("fanout")
		f.log.Warn().Err(err).Str("room", room).Str("event", event).Msg("failed to publish broadcast")
	}
	return n
}

// Run delivers records published by other replicas until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	for {
		msg, err := f.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.Warn().Err(err).Dur("retry", f.retry).Msg("fanout read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(f.retry):
			}
			continue
		}

		var rec fanoutRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			f.log.Debug().Err(err).Msg("skipping malformed fanout record")
			continue
		}
		if rec.Origin == f.origin || rec.Room == "" || rec.Event == "" {
			continue
		}
		f.hub.Broadcast(rec.Room, rec.Event, rec.Data)
	}
}

func (f *Fanout) Close() error {
	werr := f.w.Close()
	rerr := f.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
