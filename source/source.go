// Package source abstracts the inbound change stream. A source hands the
// pipeline raw envelope bytes one message at a time; offsets are committed
// only after the pipeline has accepted the message.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerfeed/ledgerfeed/cfg"
)

// Message is one raw change event from the bus
type Message struct {
	// Stream is the fully qualified topic or subject name
	Stream string
	// Value is the raw envelope bytes
	Value []byte
	// BusTSMillis is when the bus accepted the message, 0 if unknown
	BusTSMillis int64
	// ReceivedAt is when this process fetched the message
	ReceivedAt time.Time

	// handle is the transport-specific object needed to commit
	handle any
}

// Source is a committable stream of change events
type Source interface {
	// Fetch blocks until a message is available or ctx is done
	Fetch(ctx context.Context) (*Message, error)
	// Commit acknowledges a fetched message
	Commit(ctx context.Context, msg *Message) error
	// Close tears down the connection
	Close() error
}

// New creates the source named by conf.Kind. Kafka needs the topic list up
// front; NATS subscribes to everything under the topic prefix.
func New(conf cfg.SourceConfiguration, topics []string) (Source, error) {
	switch conf.Kind {
	case "kafka":
		return NewKafkaSource(conf, topics)
	case "nats":
		return NewNatsSource(conf)
	default:
		return nil, fmt.Errorf("unknown source kind: %s", conf.Kind)
	}
}
