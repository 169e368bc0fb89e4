package domain

import "time"

// Movement is one append-only audit row written in the same transaction as the inventory update.
type Movement struct {
	ID           string
	SKU          SKU
	MovementType MovementType
	Quantity     int
	CreatedAt    time.Time
}
