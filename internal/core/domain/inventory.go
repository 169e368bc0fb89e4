package domain

import "time"

// DefaultRestockThreshold is the stock level at or below which a reservation raises a restock signal.
const DefaultRestockThreshold = 10

type MovementType string

const (
	MovementCreated   MovementType = "CREATED"
	MovementReserve   MovementType = "RESERVE"
	MovementRelease   MovementType = "RELEASE"
	MovementReplenish MovementType = "REPLENISH"
)

// RestockNotifier receives the synchronous low-stock signal raised by Reserve.
type RestockNotifier interface {
	RestockNeeded(sku SKU, available int)
}

// ProductInventory is the stock aggregate for one SKU.
type ProductInventory struct {
	sku       SKU
	available int
	version   int64 // optimistic locking, 0 until first save
	updatedAt time.Time

	lastMovementType     MovementType
	lastMovementQuantity int

	restockThreshold int
	restockNotifier  RestockNotifier
}

// NewProductInventory creates stock for a SKU that has never been persisted.
func NewProductInventory(sku SKU, initial int) (*ProductInventory, error) {
	if sku.IsZero() {
		return nil, NewValidationError("sku", "", "is required")
	}
	if initial < 0 {
		return nil, NewValidationError("available", initial, "must be equal or higher than 0")
	}
	return &ProductInventory{
		sku:                  sku,
		available:            initial,
		lastMovementType:     MovementCreated,
		lastMovementQuantity: initial,
		restockThreshold:     DefaultRestockThreshold,
	}, nil
}

// Rehydrate rebuilds an aggregate from its stored row.
func Rehydrate(sku SKU, available int, version int64, updatedAt time.Time) *ProductInventory {
	return &ProductInventory{
		sku:              sku,
		available:        available,
		version:          version,
		updatedAt:        updatedAt,
		restockThreshold: DefaultRestockThreshold,
	}
}

// ObserveRestock sets the threshold and the receiver of low-stock signals.
func (p *ProductInventory) ObserveRestock(threshold int, notifier RestockNotifier) {
	p.restockThreshold = threshold
	p.restockNotifier = notifier
}

func (p *ProductInventory) Reserve(qty Quantity) error {
	if p.available < qty.Int() {
		return &InsufficientStockError{SKU: p.sku, Available: p.available, Requested: qty.Int()}
	}
	p.available -= qty.Int()
	p.record(MovementReserve, qty)

	if p.available <= p.restockThreshold && p.restockNotifier != nil {
		p.restockNotifier.RestockNeeded(p.sku, p.available)
	}
	return nil
}

func (p *ProductInventory) Release(qty Quantity) {
	p.available += qty.Int()
	p.record(MovementRelease, qty)
}

func (p *ProductInventory) Replenish(qty Quantity) {
	p.available += qty.Int()
	p.record(MovementReplenish, qty)
}

func (p *ProductInventory) record(movement MovementType, qty Quantity) {
	p.lastMovementType = movement
	p.lastMovementQuantity = qty.Int()
}

// MarkSaved advances the aggregate to the version the store committed and clears the
// pending movement, so saving again without a new mutation fails with ErrNoMovement.
func (p *ProductInventory) MarkSaved(version int64, at time.Time) {
	p.version = version
	p.updatedAt = at
	p.lastMovementType = ""
	p.lastMovementQuantity = 0
}

func (p *ProductInventory) SKU() SKU                       { return p.sku }
func (p *ProductInventory) Available() int                 { return p.available }
func (p *ProductInventory) Version() int64                 { return p.version }
func (p *ProductInventory) UpdatedAt() time.Time           { return p.updatedAt }
func (p *ProductInventory) IsNew() bool                    { return p.version == 0 }
func (p *ProductInventory) LastMovementType() MovementType { return p.lastMovementType }
func (p *ProductInventory) LastMovementQuantity() int      { return p.lastMovementQuantity }

// LastMovement describes the mutation that will be appended to the audit trail on save.
func (p *ProductInventory) LastMovement(at time.Time) Movement {
	return Movement{
		SKU:          p.sku,
		MovementType: p.lastMovementType,
		Quantity:     p.lastMovementQuantity,
		CreatedAt:    at,
	}
}
