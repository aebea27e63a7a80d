package domain

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrZeroPrice is returned when a zero Price is constructed; the data model
// requires every Price to be non-zero.
var ErrZeroPrice = errors.New("domain: price must be non-zero")

// Price is a 256-bit value denominated in wei per 10^18 units of a token.
type Price struct {
	value *uint256.Int
}

// NewPrice validates and wraps a copy of v as a Price; later changes to v
// do not affect the returned Price.
func NewPrice(v *uint256.Int) (Price, error) {
	if v == nil || v.IsZero() {
		return Price{}, ErrZeroPrice
	}
	return Price{value: new(uint256.Int).Set(v)}, nil
}

// Uint256 returns the underlying 256-bit value.
func (p Price) Uint256() *uint256.Int {
	return new(uint256.Int).Set(p.value)
}

// IsZero reports whether this Price is the unset zero value (as opposed to
// a validated Price of numeric value zero, which cannot exist).
func (p Price) IsZero() bool {
	return p.value == nil
}
