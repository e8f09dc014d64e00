package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedJoiner struct {
	results  []bool
	errs     []error
	attempts int
}

func (j *scriptedJoiner) Join(ctx context.Context, groupID, sensorID int64) (bool, error) {
	i := j.attempts
	j.attempts++
	var err error
	if i < len(j.errs) {
		err = j.errs[i]
	}
	var ok bool
	if i < len(j.results) {
		ok = j.results[i]
	}
	return ok, err
}

// fakeSleep records requested delays and returns immediately.
func fakeSleep(delays *[]time.Duration) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func newTestSupervisor(maxAttempts int, delays *[]time.Duration) *JoinSupervisor {
	s := NewJoinSupervisor(64*time.Millisecond, maxAttempts)
	s.sleep = fakeSleep(delays)
	return s
}

func TestSupervisor_FirstAttemptAccepted(t *testing.T) {
	var delays []time.Duration
	s := newTestSupervisor(3, &delays)
	j := &scriptedJoiner{results: []bool{true}}

	require.NoError(t, s.Run(context.Background(), j, 1, 7))
	assert.Equal(t, 1, j.attempts)
	assert.Empty(t, delays, "an accepted join must not sleep")
}

func TestSupervisor_SucceedsOnSecondAttempt(t *testing.T) {
	var delays []time.Duration
	s := newTestSupervisor(3, &delays)
	j := &scriptedJoiner{results: []bool{false, true}}

	require.NoError(t, s.Run(context.Background(), j, 1, 7))
	assert.Equal(t, 2, j.attempts)
	assert.Len(t, delays, 1)
}

func TestSupervisor_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	s := newTestSupervisor(3, &delays)
	j := &scriptedJoiner{results: []bool{false, false, false}}

	err := s.Run(context.Background(), j, 1, 7)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, j.attempts)
	assert.Len(t, delays, 2, "no sleep after the final attempt")
}

func TestSupervisor_TransportErrorRetried(t *testing.T) {
	var delays []time.Duration
	s := newTestSupervisor(3, &delays)
	j := &scriptedJoiner{
		results: []bool{false, true},
		errs:    []error{errors.New("connection reset"), nil},
	}

	require.NoError(t, s.Run(context.Background(), j, 1, 7))
	assert.Equal(t, 2, j.attempts)
}

func TestSupervisor_DelayWithinWindow(t *testing.T) {
	s := NewJoinSupervisor(64*time.Millisecond, 10)

	for attempt := 0; attempt < 8; attempt++ {
		for trial := 0; trial < 50; trial++ {
			d := s.delay(attempt)
			lo := 64 * time.Millisecond
			hi := 64 * time.Millisecond * time.Duration(1<<uint(attempt))
			assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
			assert.LessOrEqual(t, d, hi, "attempt %d", attempt)
		}
	}
}

func TestSupervisor_ExponentClamped(t *testing.T) {
	s := NewJoinSupervisor(time.Nanosecond, 1)
	s.randInt = func(n int64) int64 {
		assert.Equal(t, int64(1)<<maxBackoffExponent, n, "window must stop growing at the clamp")
		return n - 1
	}

	d := s.delay(maxBackoffExponent + 10)
	assert.Equal(t, time.Duration(1+int64(1)<<maxBackoffExponent-1), d)
}

func TestSupervisor_ContextCancelledDuringSleep(t *testing.T) {
	s := NewJoinSupervisor(64*time.Millisecond, 5)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}
	j := &scriptedJoiner{results: []bool{false, false, false, false, false}}

	err := s.Run(context.Background(), j, 1, 7)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, j.attempts, "cancellation must stop further attempts")
}

func TestSupervisor_ContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var delays []time.Duration
	s := newTestSupervisor(5, &delays)

	j := &scriptedJoiner{results: []bool{false}}
	cancel()

	err := s.Run(ctx, j, 1, 7)
	assert.ErrorIs(t, err, context.Canceled)
}
