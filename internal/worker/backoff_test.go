package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{
			name:     "first attempt",
			attempt:  1,
			expected: 30 * time.Second,
		},
		{
			name:     "second attempt",
			attempt:  2,
			expected: 60 * time.Second,
		},
		{
			name:     "third attempt",
			attempt:  3,
			expected: 120 * time.Second,
		},
		{
			name:     "fourth attempt",
			attempt:  4,
			expected: 240 * time.Second,
		},
		{
			name:     "fifth attempt hits the cap",
			attempt:  5,
			expected: 480 * time.Second,
		},
		{
			name:     "sixth attempt is capped",
			attempt:  6,
			expected: 600 * time.Second,
		},
		{
			name:     "large attempt stays capped",
			attempt:  10,
			expected: 600 * time.Second,
		},
		{
			name:     "zero attempt treated as first",
			attempt:  0,
			expected: 30 * time.Second,
		},
		{
			name:     "negative attempt treated as first",
			attempt:  -3,
			expected: 30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RetryDelay(tt.attempt))
		})
	}
}

func TestRetryDelay_NonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		delay := RetryDelay(attempt)
		assert.GreaterOrEqual(t, delay, prev, "delay must never shrink as attempts grow")
		assert.LessOrEqual(t, delay, 600*time.Second)
		prev = delay
	}
}
