package app

import (
	"fmt"
	"math"
	"math/bits"
)

func addInt64AndU64Checked(base int64, add uint64, label string) (int64, error) {
	if add > math.MaxInt64 {
		return 0, fmt.Errorf("%s overflow: add=%d", label, add)
	}
	sum := base + int64(add)
	if sum < base {
		return 0, fmt.Errorf("%s overflow: base=%d add=%d", label, base, add)
	}
	return sum, nil
}

func addU64Checked(a, b uint64, label string) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%s overflow: %d + %d", label, a, b)
	}
	return a + b, nil
}

// mulDiv64 computes a*b/den with a 128-bit intermediate. Callers must
// guarantee den > 0 and a <= den (true for all fee apportionment call sites),
// so the quotient fits in 64 bits.
func mulDiv64(a, b, den uint64) uint64 {
	if den == 0 || a == 0 || b == 0 {
		return 0
	}
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, den)
	return q
}
