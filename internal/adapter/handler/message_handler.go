package handler

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/adapter/broker"
	"github.com/rl1809/inventory-service/internal/adapter/upcast"
	"github.com/rl1809/inventory-service/internal/core/service"
	"github.com/rl1809/inventory-service/internal/logger"
	"github.com/rl1809/inventory-service/internal/port"
)

// MessageHandler applies work-queue messages to inventory. Every payload version is
// upcast first; message ids already processed are skipped, and ids still held by another
// attempt go back to the queue.
type MessageHandler struct {
	upcaster *upcast.Upcaster
	commands InventoryCommands
	claims   port.IdempotencyStore
	logger   *zap.Logger
}

func NewMessageHandler(upcaster *upcast.Upcaster, commands InventoryCommands, claims port.IdempotencyStore, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		upcaster: upcaster,
		commands: commands,
		claims:   claims,
		logger:   logger,
	}
}

func (h *MessageHandler) Handle(ctx context.Context, d amqp.Delivery) error {
	event, err := h.upcaster.Upcast(d.Body)
	if err != nil {
		return fmt.Errorf("upcast message %s: %w", d.MessageId, err)
	}

	key := d.MessageId
	tracked := key != "" && h.claims != nil
	if tracked {
		status, err := h.claims.Claim(ctx, key)
		if err != nil {
			return fmt.Errorf("claim message %s: %w", key, err)
		}
		switch status {
		case port.ClaimDone:
			logger.Info(ctx, h.logger, "duplicate message skipped", zap.String("message_id", key))
			return nil
		case port.ClaimHeld:
			return fmt.Errorf("%w: message %s is claimed by another attempt", broker.ErrRequeue, key)
		}
	}

	res, err := h.dispatch(ctx, event)
	if err != nil {
		if tracked {
			if relErr := h.claims.Release(context.WithoutCancel(ctx), key); relErr != nil {
				// retries are requeued until the lease runs out
				logger.Warn(ctx, h.logger, "release message claim failed",
					zap.String("message_id", key),
					zap.Error(relErr),
				)
			}
		}
		return err
	}

	if tracked {
		if err := h.claims.Complete(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn(ctx, h.logger, "mark message processed failed",
				zap.String("message_id", key),
				zap.Error(err),
			)
		}
	}

	logger.Info(ctx, h.logger, "message applied",
		zap.String("message_id", key),
		zap.String("sku", res.SKU),
		zap.String("priority", string(event.Priority)),
		zap.Int("available", res.Available),
		zap.Bool("event_delivered", res.EventDelivered),
	)
	return nil
}

type action string

const (
	actionReserve   action = "reserve"
	actionRelease   action = "release"
	actionReplenish action = "replenish"
)

// actionOf reads the verb from the last segment of the event type; anything else replenishes.
func actionOf(eventType string) action {
	verb := eventType
	if i := strings.LastIndexByte(eventType, '.'); i >= 0 {
		verb = eventType[i+1:]
	}

	switch strings.ToLower(verb) {
	case "reserve", "reserved":
		return actionReserve
	case "release", "released":
		return actionRelease
	default:
		return actionReplenish
	}
}

func (h *MessageHandler) dispatch(ctx context.Context, event upcast.CanonicalEvent) (service.Result, error) {
	switch actionOf(event.Type) {
	case actionReserve:
		return h.commands.Reserve(ctx, event.SKU, event.Quantity)
	case actionRelease:
		return h.commands.Release(ctx, event.SKU, event.Quantity)
	default:
		return h.commands.Replenish(ctx, event.SKU, event.Quantity)
	}
}
