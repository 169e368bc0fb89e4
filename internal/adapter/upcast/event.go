package upcast

import (
	"encoding/json"
	"fmt"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"

	// DefaultPriority is assigned to events published before priority existed.
	DefaultPriority = PriorityLow
)

// CanonicalEvent is the current (v2) inventory event shape.
type CanonicalEvent struct {
	Type      string    `json:"type,omitempty"`
	Version   int       `json:"version"`
	SKU       string    `json:"sku" validate:"required"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Priority  Priority  `json:"priority" validate:"required,oneof=high medium low"`
}

// Steps carry the quantity through as written; Upcast checks it once on the final shape.
type eventV1 struct {
	Type      string      `json:"type,omitempty"`
	SKU       string      `json:"sku"`
	Quantity  json.Number `json:"quantity,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitzero"`
}

type eventV2 struct {
	Type      string      `json:"type,omitempty"`
	SKU       string      `json:"sku"`
	Quantity  json.Number `json:"quantity,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitzero"`
	Priority  Priority    `json:"priority"`
}

func v1ToV2(doc Document) (Document, error) {
	var v1 eventV1
	if err := remarshal(doc, &v1); err != nil {
		return nil, fmt.Errorf("decode v1: %w", err)
	}
	if v1.SKU == "" {
		return nil, errMissingSKU
	}

	v2 := eventV2{
		Type:      v1.Type,
		SKU:       v1.SKU,
		Quantity:  v1.Quantity,
		Timestamp: v1.Timestamp,
		Priority:  DefaultPriority,
	}

	var out Document
	if err := remarshal(v2, &out); err != nil {
		return nil, fmt.Errorf("encode v2: %w", err)
	}
	return out, nil
}
