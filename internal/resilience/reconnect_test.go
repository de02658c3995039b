package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("dial failed")
		}
		return nil
	}, &ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestReconnect_GivesUp(t *testing.T) {
	cause := errors.New("dial failed")
	attempts := 0
	err := Reconnect(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		return cause
	}, &ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 1})

	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Reconnect(ctx, zerolog.Nop(), func(ctx context.Context) error {
		called = true
		return nil
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Expected no attempt after cancellation")
	}
}
