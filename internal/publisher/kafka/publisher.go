// Package kafka publishes pipeline payloads to Kafka topics.
package kafka

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/JakeFAU/icrawler/internal/publisher"
)

// Offerer sends one encoded message to a topic.
type Offerer interface {
	Offer(ctx context.Context, topic string, value []byte) error
}

// Publisher encodes payloads as JSON and offers them to Kafka.
type Publisher struct {
	producer Offerer
}

var _ publisher.Publisher = (*Publisher)(nil)

// New wraps a producer.
func New(producer Offerer) *Publisher {
	return &Publisher{producer: producer}
}

// Publish offers payload to topic. Kafka assigns no message id here.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.producer == nil {
		return "", errors.New("kafka producer is not configured")
	}
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal payload: %w", err)
		}
		data = b
	}
	if err := p.producer.Offer(ctx, topic, data); err != nil {
		return "", err
	}
	return "", nil
}
