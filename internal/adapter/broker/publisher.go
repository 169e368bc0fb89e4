package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/logger"
)

// Publisher announces committed inventory changes on the events exchange.
type Publisher struct {
	session  *Session
	exchange string
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewPublisher(session *Session, exchange string, logger *zap.Logger) *Publisher {
	settings := gobreaker.Settings{
		Name:        "EventPublisher",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Publisher{
		session:  session,
		exchange: exchange,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		logger:   logger,
		tracer:   otel.Tracer("broker/publisher"),
		now:      time.Now,
	}
}

// Emit publishes a persistent JSON event routed by its type, connecting first if needed.
func (p *Publisher) Emit(ctx context.Context, eventType domain.EventType, sku domain.SKU, quantity int) error {
	ctx, span := p.tracer.Start(ctx, "Publisher.Emit")
	defer span.End()

	span.SetAttributes(
		attribute.String("routing_key", string(eventType)),
		attribute.String("sku", sku.String()),
	)

	event := domain.NewEvent(eventType, sku, quantity, p.now())
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		ch, err := p.session.Channel(ctx)
		if err != nil {
			return nil, err
		}

		return nil, ch.PublishWithContext(ctx, p.exchange, string(eventType), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    event.Timestamp,
			Type:         string(eventType),
			Body:         body,
		})
	})

	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, p.logger, "publish event failed",
			zap.String("routing_key", string(eventType)),
			zap.String("sku", sku.String()),
			zap.Error(err),
		)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w", domain.ErrBrokerUnavailable, err)
		}
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	logger.Debug(ctx, p.logger, "event published",
		zap.String("routing_key", string(eventType)),
		zap.String("sku", sku.String()),
		zap.Int("quantity", quantity),
	)
	return nil
}
