package shared

import (
	"fmt"
	"time"
)

// DateCapacityLockKey builds the key for the per-delivery-date critical
// section guarding order and sale commits.
func DateCapacityLockKey(date time.Time) string {
	return fmt.Sprintf("capacity:date:%s:lock", date.Format("2006-01-02"))
}

// ProductionCapacityLockKey is the key for the standing production ceiling
// critical section shared by all pending production orders.
const ProductionCapacityLockKey = "capacity:production:lock"
