package client

import (
	"context"
	"math/rand"
	"time"
)

// maxBackoffExponent caps the backoff window growth so the randomized
// multiplier cannot overflow on long retry runs.
const maxBackoffExponent = 20

// Joiner is one join attempt. A false result with a nil error is a
// recoverable rejection; an error is a transport failure and also retried.
type Joiner interface {
	Join(ctx context.Context, groupID, sensorID int64) (bool, error)
}

// Sleeper waits for d or until ctx is cancelled. Injected so tests run
// without real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// JoinSupervisor retries rejected joins with randomized exponential backoff:
// after attempt k fails it waits base * (1 + randInt(2^k)).
type JoinSupervisor struct {
	base        time.Duration
	maxAttempts int
	randInt     func(n int64) int64
	sleep       Sleeper
}

// NewJoinSupervisor creates a supervisor with the production sleeper and
// randomness.
func NewJoinSupervisor(base time.Duration, maxAttempts int) *JoinSupervisor {
	return &JoinSupervisor{
		base:        base,
		maxAttempts: maxAttempts,
		randInt:     rand.Int63n,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives join attempts until one is accepted, the attempt budget runs
// out, or ctx is cancelled.
func (s *JoinSupervisor) Run(ctx context.Context, j Joiner, groupID, sensorID int64) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		accepted, err := j.Join(ctx, groupID, sensorID)
		if err == nil && accepted {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == s.maxAttempts-1 {
			break
		}
		if err := s.sleep(ctx, s.delay(attempt)); err != nil {
			return err
		}
	}
	return ErrRetriesExhausted
}

// delay computes the wait after the k-th failed attempt, zero-based.
func (s *JoinSupervisor) delay(attempt int) time.Duration {
	exp := attempt
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	window := int64(1) << uint(exp)
	return s.base * time.Duration(1+s.randInt(window))
}
