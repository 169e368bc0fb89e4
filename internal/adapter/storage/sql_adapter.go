package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/logger"
)

var ErrNoMovement = errors.New("inventory has no movement to save")

type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func NewSQLAdapter(db *sql.DB, dialect Dialect, logger *zap.Logger) *SQLAdapter {
	return &SQLAdapter{
		db:      db,
		dialect: dialect,
		logger:  logger,
		tracer:  otel.Tracer("storage/sql_adapter"),
		now:     time.Now,
	}
}

func (a *SQLAdapter) GetBySKU(ctx context.Context, sku domain.SKU) (*domain.ProductInventory, error) {
	ctx, span := a.tracer.Start(ctx, "SQLAdapter.GetBySKU")
	defer span.End()

	span.SetAttributes(attribute.String("sku", sku.String()))

	var (
		rawSKU    string
		available int
		version   int64
		updatedAt time.Time
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT sku, available, version, updated_at
		FROM inventory WHERE sku = ?`, sku.String(),
	).Scan(&rawSKU, &available, &version, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	stored, err := domain.NewSKU(rawSKU)
	if err != nil {
		return nil, fmt.Errorf("stored sku: %w", err)
	}

	return domain.Rehydrate(stored, available, version, updatedAt), nil
}

func (a *SQLAdapter) Save(ctx context.Context, inv *domain.ProductInventory) error {
	ctx, span := a.tracer.Start(ctx, "SQLAdapter.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("sku", inv.SKU().String()),
		attribute.String("movement_type", string(inv.LastMovementType())),
		attribute.Int64("version", inv.Version()),
	)

	if inv.LastMovementType() == "" {
		return ErrNoMovement
	}

	now := a.now().UTC()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	movement := inv.LastMovement(now)
	movement.ID = uuid.NewString()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO movements (id, sku, movement_type, qty, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		movement.ID, movement.SKU.String(), string(movement.MovementType), movement.Quantity, movement.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert movement: %w", err)
	}

	var next int64
	if inv.IsNew() {
		next, err = a.insertInventory(ctx, tx, inv, now)
	} else {
		next, err = a.updateInventory(ctx, tx, inv, now)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit: %w", err)
	}

	inv.MarkSaved(next, now)
	return nil
}

func (a *SQLAdapter) insertInventory(ctx context.Context, tx *sql.Tx, inv *domain.ProductInventory, now time.Time) (int64, error) {
	const first int64 = 1

	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory (sku, available, version, updated_at)
		VALUES (?, ?, ?, ?)`,
		inv.SKU().String(), inv.Available(), first, now,
	)
	if err != nil {
		if a.dialect.isUniqueViolation(err) {
			logger.Warn(ctx, a.logger, "concurrent create detected", zap.String("sku", inv.SKU().String()))
			return 0, fmt.Errorf("%w: %s was created by another writer", domain.ErrConcurrencyConflict, inv.SKU())
		}
		return 0, fmt.Errorf("insert inventory: %w", err)
	}

	return first, nil
}

func (a *SQLAdapter) updateInventory(ctx context.Context, tx *sql.Tx, inv *domain.ProductInventory, now time.Time) (int64, error) {
	next := inv.Version() + 1

	result, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET available = ?, version = ?, updated_at = ?
		WHERE sku = ? AND version = ?`,
		inv.Available(), next, now, inv.SKU().String(), inv.Version(),
	)
	if err != nil {
		return 0, fmt.Errorf("update inventory: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		logger.Warn(ctx, a.logger, "optimistic lock conflict",
			zap.String("sku", inv.SKU().String()),
			zap.Int64("loaded_version", inv.Version()),
		)
		return 0, fmt.Errorf("%w: %s changed since version %d", domain.ErrConcurrencyConflict, inv.SKU(), inv.Version())
	}

	return next, nil
}
