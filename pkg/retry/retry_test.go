package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errTransient = errors.New("transient failure")
var errFatal = errors.New("fatal failure")

func testConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got: %d", attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), func() error {
		attempts++
		return errTransient
	})

	if !errors.Is(err, errTransient) {
		t.Errorf("expected wrapped transient error, got: %v", err)
	}
	// MaxAttempts retries after the initial attempt
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got: %d", attempts)
	}
}

func TestDo_FatalErrorAborts(t *testing.T) {
	cfg := testConfig()
	cfg.Fatal = []error{errFatal}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return fmt.Errorf("wrapped: %w", errFatal)
	})

	if !errors.Is(err, errFatal) {
		t.Errorf("expected fatal error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, testConfig(), func() error {
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context error, got: %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), testConfig(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errTransient
		}
		return "ok", nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got: %q", got)
	}
}

func TestDo_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errTransient
	})

	if !errors.Is(err, errTransient) {
		t.Errorf("expected the raw error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got: %d", attempts)
	}
}
