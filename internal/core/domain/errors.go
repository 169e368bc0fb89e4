package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrNotFound             = errors.New("inventory not found")
	ErrAlreadyExists        = errors.New("inventory already exists")
	ErrConcurrencyConflict  = errors.New("concurrent modification detected")
	ErrBrokerUnavailable    = errors.New("broker unavailable")
	ErrUnknownSchemaVersion = errors.New("unknown schema version")
)

// ValidationError describes a value that failed shape validation.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// InsufficientStockError is returned when a reservation asks for more than is available.
type InsufficientStockError struct {
	SKU       SKU
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.SKU, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
