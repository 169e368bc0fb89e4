package port

import (
	"context"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

type InventoryRepository interface {
	// GetBySKU loads the aggregate with its stored version, returns nil, nil when absent
	GetBySKU(ctx context.Context, sku domain.SKU) (*domain.ProductInventory, error)

	// Save appends the last movement and upserts the row with a version check, in one transaction
	Save(ctx context.Context, inventory *domain.ProductInventory) error
}
