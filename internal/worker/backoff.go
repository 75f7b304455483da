package worker

import "time"

const (
	baseRetryDelay = 30 * time.Second
	maxRetryDelay  = 600 * time.Second
)

// RetryDelay computes the exponential backoff delay for a retry. attempt is
// 1-indexed: 30s, 60s, 120s, 240s, capped at 10 minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
