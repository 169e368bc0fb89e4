package port

import (
	"context"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

type EventPublisher interface {
	// Emit publishes a committed state change; failures never roll back the change
	Emit(ctx context.Context, eventType domain.EventType, sku domain.SKU, quantity int) error
}
