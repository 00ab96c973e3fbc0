package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

const headerEventType = "event_type"

// MessageWriter abstracts kafka.Writer for testing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.WriterStats
}

// MessageReader abstracts kafka.Reader for testing.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer keyed by ticket so events of one ticket stay ordered.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewKafkaReader builds a consumer-group reader for a topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
}

// KafkaSink forwards dispatched events to a Kafka topic.
type KafkaSink struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaSink wraps writer.
func NewKafkaSink(writer MessageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: writer, logger: logger}
}

// Handle is an EventHandler that writes the event as JSON.
func (s *KafkaSink) Handle(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Type, err)
	}
	msg := kafka.Message{
		Key:     []byte(event.TicketID),
		Value:   value,
		Time:    event.Timestamp,
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(event.Type)}},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("publish event to kafka failed", zap.String("type", string(event.Type)), zap.String("ticket_id", event.TicketID), zap.Error(err))
		return fmt.Errorf("write event %s: %w", event.Type, err)
	}
	return nil
}

// Register subscribes the sink to each event type.
func (s *KafkaSink) Register(dispatcher Dispatcher, types ...EventType) {
	for _, t := range types {
		dispatcher.Subscribe(t, s.Handle)
	}
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// KafkaConsumer reads ticket lifecycle events and republishes them on a dispatcher.
// A message whose handlers fail with a store outage is retried with backoff and only
// committed once it goes through, so a met deadline is never lost to an outage.
// Undecodable messages and other handler errors are logged and committed.
type KafkaConsumer struct {
	reader     MessageReader
	dispatcher Dispatcher
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
}

// ConsumerOption configures a KafkaConsumer.
type ConsumerOption func(*KafkaConsumer)

// WithRetryBackOff sets the backoff policy used while the store is unavailable.
func WithRetryBackOff(f func() backoff.BackOff) ConsumerOption {
	return func(c *KafkaConsumer) { c.newBackOff = f }
}

// NewKafkaConsumer wires reader to dispatcher.
func NewKafkaConsumer(reader MessageReader, dispatcher Dispatcher, logger *zap.Logger, opts ...ConsumerOption) *KafkaConsumer {
	c := &KafkaConsumer{reader: reader, dispatcher: dispatcher, logger: logger, newBackOff: defaultRetryBackOff}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch ticket event: %w", err)
		}
		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handle ticket event at offset %d: %w", msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit ticket event: %w", err)
		}
	}
}

// process dispatches msg until it succeeds or fails for a reason other than a
// store outage. A non-nil error means msg must not be committed.
func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message) error {
	event, ok := c.decode(msg)
	if !ok {
		return nil
	}
	attempt := func() error {
		err := c.dispatcher.Publish(ctx, event)
		if err == nil || apperrors.IsStoreUnavailable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("store unavailable, retrying ticket event",
			zap.String("type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Int64("offset", msg.Offset),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(attempt, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err == nil {
		return nil
	}
	if apperrors.IsStoreUnavailable(err) || ctx.Err() != nil {
		return err
	}
	c.logger.Error("ticket event handler failed",
		zap.String("type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.Int64("offset", msg.Offset),
		zap.Error(err),
	)
	return nil
}

func (c *KafkaConsumer) decode(msg kafka.Message) (Event, bool) {
	var raw struct {
		Event
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &raw); err != nil {
		c.logger.Warn("discarding undecodable ticket event",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return Event{}, false
	}
	event := raw.Event
	event.Payload = raw.Payload
	if event.Type == "" {
		event.Type = EventType(headerValue(msg, headerEventType))
	}
	if event.TicketID == "" {
		event.TicketID = string(msg.Key)
	}
	return event, true
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
