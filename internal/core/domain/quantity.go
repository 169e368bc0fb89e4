package domain

// Quantity is a whole number of units strictly greater than zero.
type Quantity struct {
	value int
}

func NewQuantity(raw int) (Quantity, error) {
	if raw <= 0 {
		return Quantity{}, NewValidationError("quantity", raw, "must be a positive integer")
	}
	return Quantity{value: raw}, nil
}

// QuantityFromFloat accepts decoded JSON numbers and rejects fractional values.
func QuantityFromFloat(raw float64) (Quantity, error) {
	if raw != float64(int(raw)) {
		return Quantity{}, NewValidationError("quantity", raw, "must be a positive integer")
	}
	return NewQuantity(int(raw))
}

func (q Quantity) Int() int {
	return q.value
}
