package fees

import (
	"time"

	"github.com/shopspring/decimal"
)

// Calculate returns the fee owed on a borrow due at dueDate, as of asOf.
//
// Days are counted between calendar dates in asOf's location, so a book due
// later today is not overdue and one due yesterday evening is one day late.
func Calculate(dueDate, asOf time.Time) FeeResult {
	days := OverdueDays(dueDate, asOf)

	fee := DailyRate.Mul(decimal.NewFromInt(int64(days)))
	if fee.GreaterThan(MaxFee) {
		fee = MaxFee
	}

	return FeeResult{
		Status:      StatusOK,
		DaysOverdue: days,
		FeeAmount:   fee.Round(2),
	}
}

// OverdueDays is max(0, date(asOf) - date(dueDate)) in whole days.
func OverdueDays(dueDate, asOf time.Time) int {
	loc := asOf.Location()
	days := int(civilDate(asOf, loc).Sub(civilDate(dueDate, loc)) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

// civilDate maps t to midnight UTC of its calendar date in loc; UTC has no DST gaps.
func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
