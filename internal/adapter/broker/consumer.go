package broker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/logger"
)

// AttemptHeader carries the 1-based processing attempt of a work message.
const AttemptHeader = "x-attempt"

const DefaultMaxRetries = 3

var errDeliveriesClosed = errors.New("delivery stream closed")

// ErrRequeue marks a handler failure that should go back to the queue without
// using up an attempt.
var ErrRequeue = errors.New("requeue without consuming attempt")

type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery) error
}

type HandlerFunc func(ctx context.Context, d amqp.Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d amqp.Delivery) error {
	return f(ctx, d)
}

type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// Decision is what the consumer did with one delivery.
type Decision string

const (
	DecisionAck        Decision = "ack"
	DecisionRetry      Decision = "retry"
	DecisionDeadLetter Decision = "dead_letter"
	DecisionRequeue    Decision = "requeue"
)

// RetryConsumer feeds the work queue to a handler. Failed messages are republished with
// an incremented attempt counter until MaxRetries, then rejected to the dead-letter exchange.
type RetryConsumer struct {
	session *Session
	queue   string
	tag     string
	policy  RetryPolicy
	handler Handler
	logger  *zap.Logger
}

func NewRetryConsumer(session *Session, queue, tag string, policy RetryPolicy, handler Handler, logger *zap.Logger) *RetryConsumer {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultMaxRetries
	}
	return &RetryConsumer{
		session: session,
		queue:   queue,
		tag:     tag,
		policy:  policy,
		handler: handler,
		logger:  logger,
	}
}

// Run consumes until ctx is cancelled. A dropped stream is reopened; it returns an error
// only when the broker stays unreachable or keeps refusing to start the consumer.
func (c *RetryConsumer) Run(ctx context.Context) error {
	attempts, delay := c.session.Budget()
	refused := 0
	for {
		opened, err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrBrokerUnavailable) {
			return err
		}

		if opened {
			refused = 0
		} else {
			refused++
		}
		if refused >= attempts {
			return fmt.Errorf("%w after %d consume attempts: %w", domain.ErrBrokerUnavailable, refused, err)
		}

		logger.Warn(ctx, c.logger, "consumer stream interrupted, reconnecting",
			zap.String("queue", c.queue),
			zap.Int("refused", refused),
			zap.Error(err),
		)
		if !opened && !sleep(ctx, delay) {
			return nil
		}
	}
}

// consume reports whether the broker accepted the consumer before the stream ended.
func (c *RetryConsumer) consume(ctx context.Context) (bool, error) {
	ch, err := c.session.Channel(ctx)
	if err != nil {
		return false, err
	}

	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		c.session.Discard(ch)
		return false, fmt.Errorf("consume %s: %w", c.queue, err)
	}

	logger.Info(ctx, c.logger, "consuming", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				c.session.Discard(ch)
				return true, errDeliveriesClosed
			}
			c.Process(ctx, ch, d)
		}
	}
}

// Process runs the handler once and settles the delivery.
func (c *RetryConsumer) Process(ctx context.Context, ch Channel, d amqp.Delivery) Decision {
	attempt := AttemptOf(d.Headers)
	fields := []zap.Field{
		zap.String("message_id", d.MessageId),
		zap.String("routing_key", d.RoutingKey),
		zap.Int("attempt", attempt),
		zap.Int("max_retries", c.policy.MaxRetries),
	}

	err := c.handler.Handle(ctx, d)
	if err == nil {
		c.settle(ctx, d.Ack(false), fields)
		return DecisionAck
	}

	fields = append(fields, zap.Error(err))

	if ctx.Err() != nil || errors.Is(err, ErrRequeue) {
		// the attempt is unchanged; the delay keeps a held message from spinning
		c.wait(ctx)
		logger.Warn(ctx, c.logger, "message requeued", fields...)
		c.settle(ctx, d.Nack(false, true), fields)
		return DecisionRequeue
	}

	if attempt >= c.policy.MaxRetries {
		logger.Error(ctx, c.logger, "retries exhausted, dead-lettering message", fields...)
		c.settle(ctx, d.Nack(false, false), fields)
		return DecisionDeadLetter
	}

	if !c.wait(ctx) {
		// shutting down, leave the message to the broker with its attempt unchanged
		c.settle(ctx, d.Nack(false, true), fields)
		return DecisionRequeue
	}

	if pubErr := c.republish(ctx, ch, d, attempt+1); pubErr != nil {
		logger.Error(ctx, c.logger, "republish failed, requeueing", append(fields, zap.NamedError("publish_error", pubErr))...)
		c.settle(ctx, d.Nack(false, true), fields)
		return DecisionRequeue
	}

	logger.Warn(ctx, c.logger, "message failed, scheduled retry", fields...)
	c.settle(ctx, d.Ack(false), fields)
	return DecisionRetry
}

func (c *RetryConsumer) wait(ctx context.Context) bool {
	return sleep(ctx, c.policy.Delay)
}

// sleep waits for d and reports false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// republish sends the message straight back to the work queue through the default exchange.
func (c *RetryConsumer) republish(ctx context.Context, ch Channel, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	maps.Copy(headers, d.Headers)
	headers[AttemptHeader] = int32(attempt)

	return ch.PublishWithContext(context.WithoutCancel(ctx), "", c.queue, false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: d.CorrelationId,
		MessageId:     d.MessageId,
		Timestamp:     d.Timestamp,
		Type:          d.Type,
		Body:          d.Body,
	})
}

func (c *RetryConsumer) settle(ctx context.Context, err error, fields []zap.Field) {
	if err != nil {
		logger.Error(ctx, c.logger, "settle delivery failed", append(fields, zap.NamedError("settle_error", err))...)
	}
}

// AttemptOf reads the attempt header. Messages without one are on their first attempt.
func AttemptOf(headers amqp.Table) int {
	raw, ok := headers[AttemptHeader]
	if !ok {
		return 1
	}

	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case float32:
		n = int64(v)
	case float64:
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 1
		}
		n = parsed
	default:
		return 1
	}

	if n < 1 {
		return 1
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}
