package channel

import (
	"math"
	"time"
)

// maxShift is the largest exponent for which 2^shift seconds fits in a
// time.Duration.
const maxShift = 33

// Delay returns how long to wait before attempt number attempt: zero for
// attempt <= 0, otherwise 2^(attempt-1) seconds. Values too large for a
// time.Duration saturate at its maximum.
func Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > maxShift {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(1<<uint(shift)) * time.Second
}
