package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrFeedSuspended reports a publish skipped because the breaker is
// open. The distributor counts these as dropped; the engine is never
// held up by a dead broker.
var ErrFeedSuspended = errors.New("trade feed suspended by circuit breaker")

// PublisherConfig points the trade feed at a kafka cluster.
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration

	// BreakerThreshold is the consecutive delivery failures that open
	// the circuit; BreakerCooldown how long it stays open. Zero values
	// take the breaker defaults.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Publisher writes trade prints to kafka. Messages are keyed by symbol
// so each symbol's prints stay ordered within a partition. Writes are
// async; delivery failures feed the circuit breaker through the
// completion callback.
type Publisher struct {
	writer  *kafka.Writer
	breaker *Breaker
	log     *zap.Logger
}

// NewPublisher builds an async publisher; write failures surface through
// the completion callback, not the caller.
func NewPublisher(cfg PublisherConfig, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher needs at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher needs a topic")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Publisher{
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		log:     logger,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.breaker.Failure()
				logger.Error("trade feed publish failed",
					zap.Int("count", len(messages)),
					zap.Error(err))
				return
			}
			p.breaker.Success()
		},
	}
	return p, nil
}

// PublishTrade queues one trade print. Returns ErrFeedSuspended while
// the breaker is open.
func (p *Publisher) PublishTrade(ctx context.Context, tick *TradeTick) error {
	if !p.breaker.Allow() {
		return ErrFeedSuspended
	}
	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marshal trade tick: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tick.Symbol),
		Value: data,
	}); err != nil {
		p.breaker.Failure()
		return err
	}
	return nil
}

// Suspended reports whether the breaker currently rejects publishes.
func (p *Publisher) Suspended() bool {
	return p.breaker.Open()
}

// Close flushes pending writes and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
