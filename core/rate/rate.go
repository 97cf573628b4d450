// Package rate provides client-side request throttling.
package rate

import "time"

// Limiter gates outbound work.
type Limiter interface {
	Allow() bool
	AllowN(t time.Time, n int) bool
}
