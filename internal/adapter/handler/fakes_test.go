package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/core/service"
)

type call struct {
	command string
	sku     string
	qty     int
}

// fakeCommands keeps stock in memory and records every call.
type fakeCommands struct {
	mu        sync.Mutex
	stock     map[string]int
	calls     []call
	err       error
	undeliver bool
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{stock: map[string]int{}}
}

func (f *fakeCommands) record(command, sku string, qty int) error {
	f.calls = append(f.calls, call{command, sku, qty})
	if f.err != nil {
		return f.err
	}
	if _, err := domain.NewSKU(sku); err != nil {
		return err
	}
	if command != "create" {
		if _, err := domain.NewQuantity(qty); err != nil {
			return err
		}
		if _, ok := f.stock[sku]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, sku)
		}
	}
	return nil
}

func (f *fakeCommands) result(sku string) service.Result {
	return service.Result{
		Snapshot:       service.Snapshot{SKU: sku, Available: f.stock[sku], Version: 2},
		EventDelivered: !f.undeliver,
	}
}

func (f *fakeCommands) CreateInventory(_ context.Context, sku string, qty int) (service.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create", sku, qty); err != nil {
		return service.Result{}, err
	}
	if _, ok := f.stock[sku]; ok {
		return service.Result{}, domain.ErrAlreadyExists
	}
	f.stock[sku] = qty
	return f.result(sku), nil
}

func (f *fakeCommands) Reserve(_ context.Context, sku string, qty int) (service.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("reserve", sku, qty); err != nil {
		return service.Result{}, err
	}
	if f.stock[sku] < qty {
		return service.Result{}, &domain.InsufficientStockError{Available: f.stock[sku], Requested: qty}
	}
	f.stock[sku] -= qty
	return f.result(sku), nil
}

func (f *fakeCommands) Release(_ context.Context, sku string, qty int) (service.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("release", sku, qty); err != nil {
		return service.Result{}, err
	}
	f.stock[sku] += qty
	return f.result(sku), nil
}

func (f *fakeCommands) Replenish(_ context.Context, sku string, qty int) (service.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("replenish", sku, qty); err != nil {
		return service.Result{}, err
	}
	f.stock[sku] += qty
	return f.result(sku), nil
}

func (f *fakeCommands) GetInventory(_ context.Context, sku string) (service.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get", sku, 1); err != nil {
		return service.Snapshot{}, err
	}
	return f.result(sku).Snapshot, nil
}

func (f *fakeCommands) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}
