package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(true, 3, time.Minute, time.Hour)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())

	assert.True(t, cb.RecordFailure(), "third failure trips")
	assert.True(t, cb.IsOpen())
}

func TestDisabledNeverTrips(t *testing.T) {
	cb := NewCircuitBreaker(false, 1, time.Minute, time.Hour)

	for i := 0; i < 10; i++ {
		assert.False(t, cb.RecordFailure())
	}
	assert.False(t, cb.IsOpen())
}

func TestSuccessClearsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(true, 2, time.Minute, time.Hour)

	cb.RecordFailure()
	cb.RecordSuccess()
	assert.False(t, cb.RecordFailure(), "count restarted after a healthy call")
	assert.False(t, cb.IsOpen())
}

func TestResetTimeoutReopens(t *testing.T) {
	cb := NewCircuitBreaker(true, 1, time.Minute, 10*time.Millisecond)

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cb.IsOpen(), "circuit closes again after the reset timeout")
}

func TestManualReset(t *testing.T) {
	cb := NewCircuitBreaker(true, 1, time.Minute, time.Hour)

	assert.True(t, cb.RecordFailure())
	cb.Reset()
	assert.False(t, cb.IsOpen())

	count, _, _, threshold := cb.GetState()
	assert.Zero(t, count)
	assert.Equal(t, 1, threshold)
}
