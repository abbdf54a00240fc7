package ir

import "math"

// EvalBinary computes a <k> b on 64-bit two's complement values.
//
// Shift amounts use the low six bits. Division by zero produces all ones
// and remainder by zero produces the dividend. The signed overflow case
// MinInt64 / -1 produces the dividend with a zero remainder.
func EvalBinary(k OpKind, a, b uint64) uint64 {
	switch k {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		sa, sb := int64(a), int64(b)
		if sb == 0 {
			return math.MaxUint64
		}
		if sa == math.MinInt64 && sb == -1 {
			return a
		}
		return uint64(sa / sb)
	case OpDivU:
		if b == 0 {
			return math.MaxUint64
		}
		return a / b
	case OpRem:
		sa, sb := int64(a), int64(b)
		if sb == 0 {
			return a
		}
		if sa == math.MinInt64 && sb == -1 {
			return 0
		}
		return uint64(sa % sb)
	case OpRemU:
		if b == 0 {
			return a
		}
		return a % b
	case OpAnd:
		return a & b
	case OpOr:
		return a | b
	case OpXor:
		return a ^ b
	case OpShl:
		return a << (b & 63)
	case OpShr:
		return a >> (b & 63)
	case OpSar:
		return uint64(int64(a) >> (b & 63))
	default:
		return 0
	}
}

// EvalCompare reports whether a <c> b holds.
func EvalCompare(c CompareKind, a, b uint64) bool {
	switch c {
	case CompareEqual:
		return a == b
	case CompareNotEqual:
		return a != b
	case CompareLess:
		return int64(a) < int64(b)
	case CompareGreaterOrEqual:
		return int64(a) >= int64(b)
	case CompareLessOrEqual:
		return int64(a) <= int64(b)
	case CompareGreater:
		return int64(a) > int64(b)
	case CompareLessUnsigned:
		return a < b
	case CompareGreaterOrEqualUnsigned:
		return a >= b
	default:
		return false
	}
}

// SizeMask returns the mask selecting the low size bytes of a value.
func SizeMask(size uint8) uint64 {
	if size >= 8 {
		return math.MaxUint64
	}
	return uint64(1)<<(8*uint(size)) - 1
}

// ValidSize reports whether size is a supported memory access width.
func ValidSize(size uint8) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	}
	return false
}
