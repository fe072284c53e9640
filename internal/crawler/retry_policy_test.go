package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 0, want: false},
		{name: "generic error", err: errors.New("reset by peer"), attempt: 0, want: true},
		{name: "attempts exhausted", err: errors.New("reset by peer"), attempt: 3, want: false},
		{name: "canceled", err: fmt.Errorf("fetch: %w", context.Canceled), attempt: 0, want: false},
		{name: "server error", err: &StatusError{URL: "u", StatusCode: 503}, attempt: 1, want: true},
		{name: "client error", err: &StatusError{URL: "u", StatusCode: 404}, attempt: 0, want: false},
		{name: "net timeout", err: timeoutErr{timeout: true}, attempt: 0, want: true},
		{name: "net non-timeout", err: timeoutErr{timeout: false}, attempt: 0, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestExponentialRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 10*time.Millisecond, 40*time.Millisecond)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}
