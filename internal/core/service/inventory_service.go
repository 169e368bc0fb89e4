package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/logger"
	"github.com/rl1809/inventory-service/internal/port"
)

type Options struct {
	RestockThreshold int
	// ConflictRetries bounds how many times a command is reloaded and reapplied after a version conflict.
	ConflictRetries int
}

// Snapshot is a read-only view of one inventory row.
type Snapshot struct {
	SKU       string
	Available int
	Version   int64
	UpdatedAt time.Time
}

// Result of a committed command. EventDelivered is false when the state changed
// but the announcement could not be published.
type Result struct {
	Snapshot
	EventDelivered bool
	PublishErr     error
}

func (r Result) Degraded() bool {
	return !r.EventDelivered
}

type InventoryService struct {
	repo      port.InventoryRepository
	publisher port.EventPublisher
	notifier  domain.RestockNotifier
	logger    *zap.Logger
	opts      Options
}

func NewInventoryService(
	repo port.InventoryRepository,
	publisher port.EventPublisher,
	notifier domain.RestockNotifier,
	logger *zap.Logger,
	opts Options,
) *InventoryService {
	return &InventoryService{
		repo:      repo,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
	}
}

func (s *InventoryService) CreateInventory(ctx context.Context, rawSKU string, qty int) (Result, error) {
	sku, err := domain.NewSKU(rawSKU)
	if err != nil {
		return Result{}, err
	}

	existing, err := s.repo.GetBySKU(ctx, sku)
	if err != nil {
		return Result{}, fmt.Errorf("load inventory: %w", err)
	}
	if existing != nil {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrAlreadyExists, sku)
	}

	inv, err := domain.NewProductInventory(sku, qty)
	if err != nil {
		return Result{}, err
	}

	if err := s.repo.Save(ctx, inv); err != nil {
		return Result{}, err
	}

	logger.Info(ctx, s.logger, "inventory created", zap.String("sku", sku.String()), zap.Int("available", qty))
	return s.announce(ctx, inv, domain.EventInventoryCreated, qty), nil
}

func (s *InventoryService) Reserve(ctx context.Context, rawSKU string, qty int) (Result, error) {
	return s.mutate(ctx, rawSKU, qty, func(inv *domain.ProductInventory, q domain.Quantity) error {
		return inv.Reserve(q)
	})
}

func (s *InventoryService) Release(ctx context.Context, rawSKU string, qty int) (Result, error) {
	return s.mutate(ctx, rawSKU, qty, func(inv *domain.ProductInventory, q domain.Quantity) error {
		inv.Release(q)
		return nil
	})
}

func (s *InventoryService) Replenish(ctx context.Context, rawSKU string, qty int) (Result, error) {
	return s.mutate(ctx, rawSKU, qty, func(inv *domain.ProductInventory, q domain.Quantity) error {
		inv.Replenish(q)
		return nil
	})
}

func (s *InventoryService) GetInventory(ctx context.Context, rawSKU string) (Snapshot, error) {
	sku, err := domain.NewSKU(rawSKU)
	if err != nil {
		return Snapshot{}, err
	}

	inv, err := s.repo.GetBySKU(ctx, sku)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load inventory: %w", err)
	}
	if inv == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", domain.ErrNotFound, sku)
	}

	return snapshotOf(inv), nil
}

// mutate runs load, apply, save. Only version conflicts are retried, each time from a fresh load.
func (s *InventoryService) mutate(
	ctx context.Context,
	rawSKU string,
	qty int,
	apply func(*domain.ProductInventory, domain.Quantity) error,
) (Result, error) {
	sku, err := domain.NewSKU(rawSKU)
	if err != nil {
		return Result{}, err
	}
	q, err := domain.NewQuantity(qty)
	if err != nil {
		return Result{}, err
	}

	for attempt := 0; ; attempt++ {
		inv, err := s.repo.GetBySKU(ctx, sku)
		if err != nil {
			return Result{}, fmt.Errorf("load inventory: %w", err)
		}
		if inv == nil {
			return Result{}, fmt.Errorf("%w: %s", domain.ErrNotFound, sku)
		}

		signal := &pendingRestock{}
		inv.ObserveRestock(s.opts.RestockThreshold, signal)

		if err := apply(inv, q); err != nil {
			return Result{}, err
		}

		eventType := domain.EventTypeFor(inv.LastMovementType())
		err = s.repo.Save(ctx, inv)
		if err == nil {
			signal.deliver(s.notifier)
			return s.announce(ctx, inv, eventType, q.Int()), nil
		}

		if !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= s.opts.ConflictRetries {
			return Result{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}

		logger.Warn(ctx, s.logger, "version conflict, reloading",
			zap.String("sku", sku.String()),
			zap.Int("attempt", attempt+1),
		)
	}
}

// announce publishes after commit. A publish failure degrades the result but never fails the command.
func (s *InventoryService) announce(ctx context.Context, inv *domain.ProductInventory, eventType domain.EventType, quantity int) Result {
	res := Result{Snapshot: snapshotOf(inv), EventDelivered: true}

	if err := s.publisher.Emit(context.WithoutCancel(ctx), eventType, inv.SKU(), quantity); err != nil {
		logger.Error(ctx, s.logger, "event not published, state change is committed",
			zap.String("sku", inv.SKU().String()),
			zap.String("routing_key", string(eventType)),
			zap.Error(err),
		)
		res.EventDelivered = false
		res.PublishErr = err
	}

	return res
}

func snapshotOf(inv *domain.ProductInventory) Snapshot {
	return Snapshot{
		SKU:       inv.SKU().String(),
		Available: inv.Available(),
		Version:   inv.Version(),
		UpdatedAt: inv.UpdatedAt(),
	}
}

// pendingRestock holds the low-stock signal until the reservation is committed.
type pendingRestock struct {
	raised    bool
	sku       domain.SKU
	available int
}

func (p *pendingRestock) RestockNeeded(sku domain.SKU, available int) {
	p.raised = true
	p.sku = sku
	p.available = available
}

func (p *pendingRestock) deliver(to domain.RestockNotifier) {
	if p.raised && to != nil {
		to.RestockNeeded(p.sku, p.available)
	}
}
