package service

import (
	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

// LogRestockNotifier reports low stock through the service log.
type LogRestockNotifier struct {
	logger *zap.Logger
}

func NewLogRestockNotifier(logger *zap.Logger) *LogRestockNotifier {
	return &LogRestockNotifier{logger: logger}
}

func (n *LogRestockNotifier) RestockNeeded(sku domain.SKU, available int) {
	n.logger.Warn("restock needed",
		zap.String("sku", sku.String()),
		zap.Int("available", available),
	)
}
