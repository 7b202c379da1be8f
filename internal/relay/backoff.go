package relay

import "time"

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// Backoff returns the reconnect delay for the given attempt count: 1s doubled
// per attempt, capped at 30s. Pure function of the attempt number so channel
// state machines carry no backoff state of their own.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
