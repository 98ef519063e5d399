package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errStore = errors.New("store unavailable")

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 2,
	}
}

func fail() error    { return errStore }
func succeed() error { return nil }

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(ctx, fail))
	}
	assert.Equal(t, StateOpen, cb.State())

	// rejected without invoking fn
	invoked := false
	err := cb.Execute(ctx, func() error {
		invoked = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, invoked)
}

func TestHalfOpenRecovers(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(25 * time.Millisecond)

	// two successes in half-open close the circuit
	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	time.Sleep(25 * time.Millisecond)

	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	assert.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)

	// never reached 3 consecutive failures
	assert.Equal(t, StateClosed, cb.State())
}
