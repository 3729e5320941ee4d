package event

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quantity is a measured amount: a decimal value with an explicit unit.
// Bare numbers are never used for inventory amounts - decimal arithmetic
// keeps conservation checks exact across replay.
type Quantity struct {
	Value decimal.Decimal `json:"value" yaml:"value"`
	Unit  string          `json:"unit" yaml:"unit"`
}

// Qty builds a Quantity from a decimal string representation.
// Panics on malformed input; intended for literals and tests.
func Qty(value, unit string) Quantity {
	return Quantity{Value: decimal.RequireFromString(value), Unit: unit}
}

// QtyInt builds a Quantity from an integer value.
func QtyInt(value int64, unit string) Quantity {
	return Quantity{Value: decimal.NewFromInt(value), Unit: unit}
}

// Add returns q + other. The units must match.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	if q.Unit != other.Unit {
		return Quantity{}, fmt.Errorf("unit mismatch: %s + %s", q.Unit, other.Unit)
	}
	return Quantity{Value: q.Value.Add(other.Value), Unit: q.Unit}, nil
}

// Sub returns q - other. The units must match.
func (q Quantity) Sub(other Quantity) (Quantity, error) {
	if q.Unit != other.Unit {
		return Quantity{}, fmt.Errorf("unit mismatch: %s - %s", q.Unit, other.Unit)
	}
	return Quantity{Value: q.Value.Sub(other.Value), Unit: q.Unit}, nil
}

// Neg returns the negated quantity.
func (q Quantity) Neg() Quantity {
	return Quantity{Value: q.Value.Neg(), Unit: q.Unit}
}

// IsZero reports whether the value is exactly zero.
func (q Quantity) IsZero() bool {
	return q.Value.IsZero()
}

// IsNegative reports whether the value is below zero.
func (q Quantity) IsNegative() bool {
	return q.Value.IsNegative()
}

// IsPositive reports whether the value is above zero.
func (q Quantity) IsPositive() bool {
	return q.Value.IsPositive()
}

// String renders the quantity as "value unit", e.g. "12.5 liter".
func (q Quantity) String() string {
	return fmt.Sprintf("%s %s", q.Value.String(), q.Unit)
}
