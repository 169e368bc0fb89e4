package domain

import "regexp"

var skuPattern = regexp.MustCompile(`^[A-Z]{3}-[0-9]{4}-[A-Z]{2}$`)

// SKU identifies a stock-keeping unit, shaped like "ABC-1234-AB".
type SKU struct {
	value string
}

func NewSKU(raw string) (SKU, error) {
	if !skuPattern.MatchString(raw) {
		return SKU{}, NewValidationError("sku", raw, "must match format AAA-0000-AA")
	}
	return SKU{value: raw}, nil
}

func (s SKU) String() string {
	return s.value
}

func (s SKU) IsZero() bool {
	return s.value == ""
}
