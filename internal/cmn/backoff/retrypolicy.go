package backoff

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrRetriesExhausted is returned when the policy allows no further attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RetryPolicy computes the wait before the next attempt.
type RetryPolicy interface {
	// ComputeNextInterval returns the wait before attempt retryCount+1, or an
	// error when no further attempt should be made.
	ComputeNextInterval(retryCount int, elapsed time.Duration, err error) (time.Duration, error)
}

const (
	defaultBackoffFactor = 2.0
	defaultMaxInterval   = 10 * time.Second
)

// ExponentialBackoffPolicy doubles (by BackoffFactor) the wait after every
// failure, capped at MaxInterval. MaxRetries and MaxElapsed of zero mean no
// limit.
type ExponentialBackoffPolicy struct {
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	MaxRetries      int
	MaxElapsed      time.Duration
}

// NewExponentialBackoffPolicy creates a policy starting at initialInterval.
func NewExponentialBackoffPolicy(initialInterval time.Duration) *ExponentialBackoffPolicy {
	return &ExponentialBackoffPolicy{
		InitialInterval: initialInterval,
		BackoffFactor:   defaultBackoffFactor,
		MaxInterval:     defaultMaxInterval,
	}
}

func (p *ExponentialBackoffPolicy) ComputeNextInterval(retryCount int, elapsed time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	if p.MaxElapsed > 0 && elapsed >= p.MaxElapsed {
		return 0, ErrRetriesExhausted
	}
	interval := float64(p.InitialInterval) * math.Pow(p.BackoffFactor, float64(retryCount))
	if p.MaxInterval > 0 && interval > float64(p.MaxInterval) {
		interval = float64(p.MaxInterval)
	}
	return time.Duration(interval), nil
}

// ConstantBackoffPolicy waits the same Interval between attempts.
type ConstantBackoffPolicy struct {
	Interval   time.Duration
	MaxRetries int
}

// NewConstantBackoffPolicy creates a policy with a fixed interval.
func NewConstantBackoffPolicy(interval time.Duration) *ConstantBackoffPolicy {
	return &ConstantBackoffPolicy{Interval: interval}
}

func (p *ConstantBackoffPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	return p.Interval, nil
}
