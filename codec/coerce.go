package codec

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToFloat converts any numeric input accepted by Encode into a float64.
// NaN and infinities are rejected.
func ToFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return ToFloat(float64(v))
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case decimal.Decimal:
		return v.InexactFloat64(), true
	case *decimal.Decimal:
		if v == nil {
			return 0, false
		}
		return v.InexactFloat64(), true
	case Value:
		if v.kind == KindFloat {
			return ToFloat(v.f)
		}
		return v.Float64()
	default:
		return 0, false
	}
}

// toInteger returns the exact integer behind integral inputs. Fractional
// floats and decimals, strings and other shapes report false.
func toInteger(value interface{}) (*big.Int, bool) {
	switch v := value.(type) {
	case int:
		return big.NewInt(int64(v)), true
	case int8:
		return big.NewInt(int64(v)), true
	case int16:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	case uint:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case bool:
		if v {
			return big.NewInt(1), true
		}
		return big.NewInt(0), true
	case float32:
		return toInteger(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return nil, false
		}
		n, _ := new(big.Float).SetFloat64(v).Int(nil)
		return n, true
	case decimal.Decimal:
		if !v.IsInteger() {
			return nil, false
		}
		return v.BigInt(), true
	case *decimal.Decimal:
		if v == nil {
			return nil, false
		}
		return toInteger(*v)
	case Value:
		switch v.kind {
		case KindInt:
			return big.NewInt(v.i), true
		case KindUint, KindSymbol, KindSymbols:
			return new(big.Int).SetUint64(v.u), true
		case KindFloat:
			return toInteger(v.f)
		}
	}
	return nil, false
}

// ToDecimal converts numeric input into a decimal.Decimal.
func ToDecimal(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	case Value:
		return v.Decimal()
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	}
	if n, ok := toInteger(value); ok {
		return decimal.NewFromBigInt(n, 0), true
	}
	return decimal.Zero, false
}
