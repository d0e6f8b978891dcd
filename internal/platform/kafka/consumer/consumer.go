package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"bnpl/internal/platform/kafka"
)

// ErrPermanent marks a handler failure that retrying cannot fix (e.g. an undecodable payload).
// Such records are logged and committed immediately.
var ErrPermanent = errors.New("permanent message failure")

// Message represents a received Kafka message.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes consumed messages. Handlers must tolerate redelivery.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Config holds consumer configuration.
type Config struct {
	Brokers     string
	GroupID     string
	Topics      []string
	MaxAttempts int           // per record before it is skipped; default 5
	RetryDelay  time.Duration // base backoff between attempts; default 200ms
}

// Consumer reads records with manual commits: a record's offset is committed
// only after its handler succeeds, fails permanently, or exhausts its retries.
type Consumer struct {
	client      *kgo.Client
	handler     Handler
	logger      *slog.Logger
	maxAttempts int
	retryDelay  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	seeds := kafka.SplitBrokers(cfg.Brokers)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer group ID not configured")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("kafka consumer topics not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	c := &Consumer{
		client:      client,
		handler:     handler,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 5
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 200 * time.Millisecond
	}
	return c, nil
}

// Start begins the consumption loop in a background goroutine.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Go(func() { c.run(ctx) })
}

func (c *Consumer) run(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var done []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if ctx.Err() != nil {
				return
			}
			if c.process(ctx, r) {
				done = append(done, r)
			}
		})
		if len(done) == 0 {
			continue
		}
		if err := c.client.CommitRecords(ctx, done...); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "records", len(done), "error", err)
		}
	}
}

// process reports whether the record is settled and its offset may be committed.
func (c *Consumer) process(ctx context.Context, r *kgo.Record) bool {
	msg := toMessage(r)
	for attempt := 1; ; attempt++ {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrPermanent) || attempt >= c.maxAttempts {
			c.logger.Error("kafka message dropped",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"attempts", attempt,
				"error", err,
			)
			return true
		}
		c.logger.Warn("kafka message handling failed, retrying",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}
}

func toMessage(r *kgo.Record) *Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}

// Stop cancels the loop, waits for the in-flight record and closes the client.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	defer c.client.Close()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
