package booking

import "time"

// Amounts are integer VND. The two places fractional arithmetic can occur —
// pro-rated duration pricing and percentage refunds — both round half-up.

// roundHalfUpDiv divides n by d rounding half away from zero. n must be
// non-negative, d positive.
func roundHalfUpDiv(n, d int64) int64 {
	return (n + d/2) / d
}

// PriceFor computes the charge for an interval at an hourly unit price,
// pro-rated to the minute.
func PriceFor(unitPrice int64, interval Interval) int64 {
	minutes := int64(interval.Duration() / time.Minute)
	return roundHalfUpDiv(unitPrice*minutes, 60)
}

// refundPercent returns the refund tier for a cancellation this far ahead of
// the reservation start: full refund beyond 24 hours, half beyond 12, none
// inside that.
func refundPercent(untilStart time.Duration) int64 {
	switch {
	case untilStart > 24*time.Hour:
		return 100
	case untilStart > 12*time.Hour:
		return 50
	default:
		return 0
	}
}

// RefundAmount computes the refund for cancelling a paid reservation
// untilStart ahead of its start time.
func RefundAmount(price int64, untilStart time.Duration) int64 {
	pct := refundPercent(untilStart)
	if pct == 0 {
		return 0
	}
	return roundHalfUpDiv(price*pct, 100)
}
