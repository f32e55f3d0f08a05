package source

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/ledgerfeed/ledgerfeed/cfg"
)

// KafkaSource consumes change events from Kafka topics as part of a
// consumer group. Offsets are committed explicitly after the pipeline
// accepts each message.
type KafkaSource struct {
	reader *kafka.Reader
}

// NewKafkaSource subscribes to the given topics
func NewKafkaSource(conf cfg.SourceConfiguration, topics []string) (*KafkaSource, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("kafka source requires at least one topic")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     conf.Brokers,
		GroupID:     conf.GroupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})

	log.Info().
		Strs("brokers", conf.Brokers).
		Strs("topics", topics).
		Str("group_id", conf.GroupID).
		Msg("Kafka source connected")

	return &KafkaSource{reader: reader}, nil
}

func (s *KafkaSource) Fetch(ctx context.Context) (*Message, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	return &Message{
		Stream:      msg.Topic,
		Value:       msg.Value,
		BusTSMillis: msg.Time.UnixMilli(),
		ReceivedAt:  time.Now(),
		handle:      msg,
	}, nil
}

func (s *KafkaSource) Commit(ctx context.Context, msg *Message) error {
	km, ok := msg.handle.(kafka.Message)
	if !ok {
		return fmt.Errorf("message was not fetched from this source")
	}
	return s.reader.CommitMessages(ctx, km)
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
