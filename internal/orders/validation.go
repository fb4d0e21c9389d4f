package orders

import (
	"time"

	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// ValidateLines rejects empty line sets and duplicate products. The same
// product must not appear twice in one order; callers merge quantities into
// a single line instead.
func ValidateLines(lines []LineReq) error {
	if len(lines) == 0 {
		return shared.NewValidationError("at least one line item is required")
	}
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if seen[l.ProductID] {
			return shared.NewValidationError("duplicate product %d in line items", l.ProductID)
		}
		seen[l.ProductID] = true
	}
	return nil
}

// ValidateDeliveryDate rejects delivery dates before today. Parsed dates sit
// at UTC midnight while the clock runs in the server zone, so the comparison
// is on the calendar day, not the instant.
func ValidateDeliveryDate(date time.Time) error {
	if date.Format("2006-01-02") < time.Now().Format("2006-01-02") {
		return shared.NewValidationError("delivery date %s is in the past", date.Format("2006-01-02"))
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD date, reporting a validation error on
// malformed input.
func ParseDate(value string) (time.Time, error) {
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, shared.NewValidationError("unparseable date %q", value)
	}
	return date, nil
}
