package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const defaultPollTimeout = time.Second

// KafkaBroker hands out one message at a time from lazily joined consumer
// groups. Each (topic, group) pair runs its own background session.
type KafkaBroker struct {
	cfg    KafkaConfig
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
	join   func(group string) (sarama.ConsumerGroup, error)
}

type subscription struct {
	group  sarama.ConsumerGroup
	msgs   chan []byte
	cancel context.CancelFunc
	done   chan struct{}
}

// Broker returns the shared Kafka broker.
func (m *Manager) Broker() (*KafkaBroker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if m.broker != nil {
		return m.broker, nil
	}
	if len(m.cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers", ErrNotConfigured)
	}
	sc, err := saramaConfig(m.cfg.Kafka)
	if err != nil {
		return nil, err
	}
	brokers := m.cfg.Kafka.Brokers
	m.broker = newKafkaBroker(m.cfg.Kafka, m.logger, func(group string) (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(brokers, group, sc)
	})
	return m.broker, nil
}

func newKafkaBroker(cfg KafkaConfig, logger *zap.Logger, join func(string) (sarama.ConsumerGroup, error)) *KafkaBroker {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &KafkaBroker{
		cfg:    cfg,
		logger: logger.Named("kafka"),
		subs:   make(map[string]*subscription),
		join:   join,
	}
}

// Poll returns the next message value of topic for group, or nil when none
// arrived within the poll timeout.
func (b *KafkaBroker) Poll(ctx context.Context, topic, group string) ([]byte, error) {
	sub, err := b.subscribe(topic, group)
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(b.cfg.PollTimeout)
	defer timer.Stop()
	select {
	case v := <-sub.msgs:
		return v, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("kafka poll: %w", ctx.Err())
	}
}

func (b *KafkaBroker) subscribe(topic, group string) (*subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("kafka broker closed")
	}
	key := topic + "/" + group
	if sub, ok := b.subs[key]; ok {
		return sub, nil
	}
	cg, err := b.join(group)
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", group, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{group: cg, msgs: make(chan []byte), cancel: cancel, done: make(chan struct{})}
	b.subs[key] = sub
	logger := b.logger.With(zap.String("topic", topic), zap.String("group", group))
	go func() {
		defer close(sub.done)
		handler := claimHandler{msgs: sub.msgs}
		for ctx.Err() == nil {
			if err := cg.Consume(ctx, []string{topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.Error("consumer group error", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}()
	logger.Info("subscribed to kafka topic")
	return sub, nil
}

// Close leaves every consumer group.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for key, sub := range b.subs {
		sub.cancel()
		if err := sub.group.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer group %s: %w", key, err))
		}
		<-sub.done
	}
	return errors.Join(errs...)
}

// claimHandler hands each message to a waiting Poll and marks it once taken.
type claimHandler struct {
	msgs chan<- []byte
}

func (claimHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.msgs <- msg.Value:
				session.MarkMessage(msg, "")
			case <-session.Context().Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// KafkaProducer offers messages synchronously.
type KafkaProducer struct {
	producer sarama.SyncProducer
	m        *Manager
}

// Producer returns the shared Kafka producer.
func (m *Manager) Producer() (*KafkaProducer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if m.producer != nil {
		return m.producer, nil
	}
	if len(m.cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers", ErrNotConfigured)
	}
	sc, err := saramaConfig(m.cfg.Kafka)
	if err != nil {
		return nil, err
	}
	p, err := sarama.NewSyncProducer(m.cfg.Kafka.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	m.producer = NewKafkaProducer(p, m)
	return m.producer, nil
}

// NewKafkaProducer wraps an existing sarama producer.
func NewKafkaProducer(p sarama.SyncProducer, m *Manager) *KafkaProducer {
	return &KafkaProducer{producer: p, m: m}
}

// Offer sends value to topic under the retry policy.
func (p *KafkaProducer) Offer(ctx context.Context, topic string, value []byte) error {
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(value)}
	send := func(context.Context) error {
		if _, _, err := p.producer.SendMessage(msg); err != nil {
			return fmt.Errorf("send to %s: %w", topic, err)
		}
		return nil
	}
	if p.m == nil {
		return send(ctx)
	}
	return p.m.Retry(ctx, "kafka offer", send)
}

// Close flushes and closes the producer.
func (p *KafkaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
