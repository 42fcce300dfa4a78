// Package checked provides overflow-checked arithmetic for size
// calculations.
package checked

import "math/bits"

// Add returns a + b, with ok = false when the sum overflows.
func Add(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// Mul returns a * b, with ok = false when the product overflows. This guards
// count * blockSize calculations.
func Mul(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// RoundUp rounds n up to a multiple of m, with ok = false on overflow or when
// m is zero.
func RoundUp(n, m uint64) (uint64, bool) {
	if m == 0 {
		return 0, false
	}
	if rem := n % m; rem != 0 {
		return Add(n, m-rem)
	}
	return n, true
}
