package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/ledgerfeed/ledgerfeed/cfg"
)

const natsFetchTimeout = 500 * time.Millisecond

// NatsSource consumes change events from a NATS JetStream durable pull
// consumer. The subject filter covers every stream under the configured
// topic prefix.
type NatsSource struct {
	nc       *nats.Conn
	consumer jetstream.Consumer

	// Fetch returns batches; surplus messages wait here for the next call
	pending []jetstream.Msg
}

// NewNatsSource connects to JetStream and binds a durable consumer
func NewNatsSource(conf cfg.SourceConfiguration) (*NatsSource, error) {
	nc, err := nats.Connect(conf.NatsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamName := conf.NatsStream
	if streamName == "" {
		streamName = sanitizeStreamName(conf.TopicPrefix)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{conf.TopicPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   conf.GroupID,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	log.Info().
		Str("url", conf.NatsURL).
		Str("stream", streamName).
		Str("durable", conf.GroupID).
		Msg("NATS source connected")

	return &NatsSource{nc: nc, consumer: consumer}, nil
}

func (s *NatsSource) Fetch(ctx context.Context) (*Message, error) {
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := s.consumer.Fetch(16, jetstream.FetchMaxWait(natsFetchTimeout))
		if err != nil {
			return nil, err
		}
		for msg := range batch.Messages() {
			s.pending = append(s.pending, msg)
		}
		if err := batch.Error(); err != nil {
			return nil, err
		}
	}

	msg := s.pending[0]
	s.pending = s.pending[1:]

	busTS := int64(0)
	if meta, err := msg.Metadata(); err == nil {
		busTS = meta.Timestamp.UnixMilli()
	}

	return &Message{
		Stream:      msg.Subject(),
		Value:       msg.Data(),
		BusTSMillis: busTS,
		ReceivedAt:  time.Now(),
		handle:      msg,
	}, nil
}

func (s *NatsSource) Commit(ctx context.Context, msg *Message) error {
	jm, ok := msg.handle.(jetstream.Msg)
	if !ok {
		return fmt.Errorf("message was not fetched from this source")
	}
	return jm.Ack()
}

func (s *NatsSource) Close() error {
	s.nc.Close()
	return nil
}

// JetStream stream names cannot contain "."
func sanitizeStreamName(subject string) string {
	return strings.ReplaceAll(strings.ToUpper(subject), ".", "_")
}
