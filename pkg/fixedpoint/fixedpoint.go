// Package fixedpoint converts between on-chain native integers and decimals.
//
// Every on-chain quantity is a scaled integer. The precision of a value is the
// power of ten dividing the native integer to obtain the human decimal. Conversions
// into native form round half away from zero and fail with ErrOverflow instead of
// wrapping when the result does not fit the target integer type.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Precision domains used by the exchange program.
const (
	PlatformPrecision int32 = 6  // balances, prices, cost of trades
	PricingPrecision  int32 = 12 // theo prices and greeks
	MarginPrecision   int32 = 8  // margin percentages and fee rates
	PositionPrecision int32 = 3  // position and order sizes (lots)
)

var (
	// ErrOverflow is returned when a decimal does not fit the native integer type.
	ErrOverflow = errors.New("fixed point overflow")
	// ErrNegative is returned when a negative decimal is converted to an unsigned native value.
	ErrNegative = errors.New("negative value for unsigned native")
)

// Precisions lists every supported precision domain.
var Precisions = []int32{PlatformPrecision, PricingPrecision, MarginPrecision, PositionPrecision}

// ToDecimal returns native / 10^precision.
func ToDecimal(native int64, precision int32) decimal.Decimal {
	return decimal.New(native, -precision)
}

// ToDecimalUnsigned is ToDecimal for unsigned native values.
func ToDecimalUnsigned(native uint64, precision int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(native), -precision)
}

// ToNative returns round(d * 10^precision).
func ToNative(d decimal.Decimal, precision int32) (int64, error) {
	scaled := d.Shift(precision).Round(0)
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %s at precision %d", ErrOverflow, d.String(), precision)
	}
	return bi.Int64(), nil
}

// ToNativeUnsigned returns round(d * 10^precision) as an unsigned integer.
func ToNativeUnsigned(d decimal.Decimal, precision int32) (uint64, error) {
	scaled := d.Shift(precision).Round(0)
	if scaled.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegative, d.String())
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %s at precision %d", ErrOverflow, d.String(), precision)
	}
	return bi.Uint64(), nil
}

// ToNativeFloor returns floor(d * 10^precision). Used where rounding up could
// over-allocate, such as liquidation sizing.
func ToNativeFloor(d decimal.Decimal, precision int32) (int64, error) {
	scaled := d.Shift(precision).Floor()
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %s at precision %d", ErrOverflow, d.String(), precision)
	}
	return bi.Int64(), nil
}

// ToDecimalPrice converts a native platform price into a per-unit decimal price,
// dividing out the asset multiplier after precision scaling.
func ToDecimalPrice(native uint64, multiplier decimal.Decimal) decimal.Decimal {
	d := ToDecimalUnsigned(native, PlatformPrecision)
	if multiplier.IsZero() || multiplier.Equal(decimal.NewFromInt(1)) {
		return d
	}
	return d.Div(multiplier)
}

// ToNativePrice is the inverse of ToDecimalPrice.
func ToNativePrice(price decimal.Decimal, multiplier decimal.Decimal) (uint64, error) {
	if !multiplier.IsZero() {
		price = price.Mul(multiplier)
	}
	return ToNativeUnsigned(price, PlatformPrecision)
}

// ToDecimalSize converts native lots into a decimal size, applying the asset
// multiplier after precision scaling.
func ToDecimalSize(native int64, multiplier decimal.Decimal) decimal.Decimal {
	d := ToDecimal(native, PositionPrecision)
	if multiplier.IsZero() {
		return d
	}
	return d.Mul(multiplier)
}

// ToNativeSize is the inverse of ToDecimalSize.
func ToNativeSize(size decimal.Decimal, multiplier decimal.Decimal) (int64, error) {
	if !multiplier.IsZero() && !multiplier.Equal(decimal.NewFromInt(1)) {
		size = size.Div(multiplier)
	}
	return ToNative(size, PositionPrecision)
}

// Unit returns the smallest representable increment of a precision domain.
func Unit(precision int32) decimal.Decimal {
	return decimal.New(1, -precision)
}
