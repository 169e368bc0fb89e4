package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	calls []int
}

func (r *recordingNotifier) RestockNeeded(_ SKU, available int) {
	r.calls = append(r.calls, available)
}

func mustSKU(t *testing.T) SKU {
	t.Helper()
	sku, err := NewSKU("ABC-1234-AB")
	require.NoError(t, err)
	return sku
}

func mustQty(t *testing.T, n int) Quantity {
	t.Helper()
	q, err := NewQuantity(n)
	require.NoError(t, err)
	return q
}

func TestNewProductInventory(t *testing.T) {
	inv, err := NewProductInventory(mustSKU(t), 10)
	require.NoError(t, err)

	assert.Equal(t, 10, inv.Available())
	assert.True(t, inv.IsNew())
	assert.Equal(t, MovementCreated, inv.LastMovementType())
	assert.Equal(t, 10, inv.LastMovementQuantity())
}

func TestNewProductInventory_ZeroAllowed(t *testing.T) {
	inv, err := NewProductInventory(mustSKU(t), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Available())
}

func TestNewProductInventory_Negative(t *testing.T) {
	_, err := NewProductInventory(mustSKU(t), -10)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewProductInventory_ZeroSKU(t *testing.T) {
	_, err := NewProductInventory(SKU{}, 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReserve_DecreasesAvailable(t *testing.T) {
	inv := Rehydrate(mustSKU(t), 20, 3, time.Now())

	require.NoError(t, inv.Reserve(mustQty(t, 5)))
	assert.Equal(t, 15, inv.Available())
	assert.Equal(t, MovementReserve, inv.LastMovementType())
	assert.Equal(t, 5, inv.LastMovementQuantity())
	assert.Equal(t, int64(3), inv.Version())
}

func TestReserve_ExactAvailable(t *testing.T) {
	inv := Rehydrate(mustSKU(t), 5, 1, time.Now())

	require.NoError(t, inv.Reserve(mustQty(t, 5)))
	assert.Equal(t, 0, inv.Available())
}

func TestReserve_Insufficient_NoPartialMutation(t *testing.T) {
	inv := Rehydrate(mustSKU(t), 10, 1, time.Now())
	inv.Replenish(mustQty(t, 1))

	err := inv.Reserve(mustQty(t, 12))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 11, stockErr.Available)
	assert.Equal(t, 12, stockErr.Requested)

	assert.Equal(t, 11, inv.Available())
	assert.Equal(t, MovementReplenish, inv.LastMovementType())
	assert.Equal(t, 1, inv.LastMovementQuantity())
}

func TestReleaseAndReplenish_Increase(t *testing.T) {
	inv := Rehydrate(mustSKU(t), 0, 1, time.Now())

	inv.Release(mustQty(t, 3))
	assert.Equal(t, 3, inv.Available())
	assert.Equal(t, MovementRelease, inv.LastMovementType())

	inv.Replenish(mustQty(t, 7))
	assert.Equal(t, 10, inv.Available())
	assert.Equal(t, MovementReplenish, inv.LastMovementType())
	assert.Equal(t, 7, inv.LastMovementQuantity())
}

func TestReserve_LowStockSignal(t *testing.T) {
	tests := []struct {
		name      string
		start     int
		reserve   int
		threshold int
		signals   []int
	}{
		{"drops below threshold", 20, 15, 10, []int{5}},
		{"lands on threshold", 20, 10, 10, []int{10}},
		{"stays above threshold", 20, 9, 10, nil},
		{"custom threshold", 8, 3, 5, []int{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			inv := Rehydrate(mustSKU(t), tt.start, 1, time.Now())
			inv.ObserveRestock(tt.threshold, notifier)

			require.NoError(t, inv.Reserve(mustQty(t, tt.reserve)))
			assert.Equal(t, tt.signals, notifier.calls)
		})
	}
}

func TestLowStockSignal_OnlyOnReserve(t *testing.T) {
	notifier := &recordingNotifier{}
	inv := Rehydrate(mustSKU(t), 1, 1, time.Now())
	inv.ObserveRestock(10, notifier)

	inv.Release(mustQty(t, 1))
	inv.Replenish(mustQty(t, 1))
	assert.Empty(t, notifier.calls)

	require.Error(t, inv.Reserve(mustQty(t, 50)))
	assert.Empty(t, notifier.calls)
}

func TestDefaultRestockThreshold(t *testing.T) {
	notifier := &recordingNotifier{}
	inv := Rehydrate(mustSKU(t), 10, 1, time.Now())
	inv.ObserveRestock(DefaultRestockThreshold, notifier)

	require.NoError(t, inv.Reserve(mustQty(t, 6)))
	assert.Equal(t, []int{4}, notifier.calls)
}

func TestMarkSaved_ClearsPendingMovement(t *testing.T) {
	inv := Rehydrate(mustSKU(t), 4, 2, time.Now())
	require.NoError(t, inv.Reserve(mustQty(t, 1)))

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	inv.MarkSaved(3, at)

	assert.Equal(t, int64(3), inv.Version())
	assert.Equal(t, at, inv.UpdatedAt())
	assert.Equal(t, 3, inv.Available())
	assert.Empty(t, inv.LastMovementType())
	assert.Zero(t, inv.LastMovementQuantity())
}

func TestLastMovement(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	inv := Rehydrate(mustSKU(t), 4, 2, at)
	require.NoError(t, inv.Reserve(mustQty(t, 2)))

	m := inv.LastMovement(at)
	assert.Equal(t, "ABC-1234-AB", m.SKU.String())
	assert.Equal(t, MovementReserve, m.MovementType)
	assert.Equal(t, 2, m.Quantity)
	assert.Equal(t, at, m.CreatedAt)
}

func TestEventTypeFor(t *testing.T) {
	assert.Equal(t, EventInventoryCreated, EventTypeFor(MovementCreated))
	assert.Equal(t, EventInventoryReserved, EventTypeFor(MovementReserve))
	assert.Equal(t, EventInventoryReleased, EventTypeFor(MovementRelease))
	assert.Equal(t, EventInventoryReplenished, EventTypeFor(MovementReplenish))
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	e := NewEvent(EventInventoryReserved, mustSKU(t), 6, at)

	assert.Equal(t, EventInventoryReserved, e.Type)
	assert.Equal(t, EventSchemaVersion, e.Version)
	assert.Equal(t, "ABC-1234-AB", e.SKU)
	assert.Equal(t, 6, e.Quantity)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
}
