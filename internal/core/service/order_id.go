package service

import (
	"fmt"
	"math/rand"
	"time"
)

// newOrderID is the epoch millisecond timestamp followed by an 8 digit
// zero-padded random suffix.
func newOrderID(now time.Time) string {
	return fmt.Sprintf("%d%08d", now.UnixMilli(), rand.Intn(100_000_000))
}
