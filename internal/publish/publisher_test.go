package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tablewave/tablewave/internal/event"
)

type spySender struct {
	mu        sync.Mutex
	calls     int
	failAll   bool
	receivers int64
}

func (s *spySender) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAll {
		return 0, errors.New("connection refused")
	}
	return s.receivers, nil
}

func (s *spySender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(t *testing.T) *event.Event {
	t.Helper()
	evt, err := event.New("ORDER_SUBMITTED", 1, 5, map[string]any{"order_id": 42})
	if err != nil {
		t.Fatalf("event.New failed: %v", err)
	}
	return evt
}

func TestPublishOversizedMakesNoNetworkCall(t *testing.T) {
	sender := &spySender{}
	p := NewPublisher(sender, NewBreaker(BreakerConfig{}), discard(), Config{Retries: 3})

	evt := testEvent(t)
	evt.Entity = map[string]any{"blob": strings.Repeat("x", event.MaxSize)}

	if _, err := p.Publish(context.Background(), evt); !errors.Is(err, event.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if sender.callCount() != 0 {
		t.Fatalf("expected zero network calls, got %d", sender.callCount())
	}
}

func TestPublishBreakerOpenMakesNoNetworkCall(t *testing.T) {
	sender := &spySender{}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Hour})
	for i := 0; i < 5; i++ {
		breaker.Failure()
	}
	p := NewPublisher(sender, breaker, discard(), Config{Retries: 3})

	if _, err := p.Publish(context.Background(), testEvent(t)); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if sender.callCount() != 0 {
		t.Fatalf("expected zero network calls, got %d", sender.callCount())
	}
}

func TestPublishRetriesThenExhausts(t *testing.T) {
	sender := &spySender{failAll: true}
	p := NewPublisher(sender, NewBreaker(BreakerConfig{FailureThreshold: 100}), discard(), Config{
		Retries: 3, Base: time.Millisecond, MaxDelay: 2 * time.Millisecond,
	})

	_, err := p.Publish(context.Background(), testEvent(t))
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", exhausted.Attempts)
	}
	// 2 channels (branch waiters + branch admin) x 4 attempts
	if sender.callCount() != 8 {
		t.Fatalf("expected 8 publish calls, got %d", sender.callCount())
	}
}

func TestPublishSumsSubscriberCounts(t *testing.T) {
	sender := &spySender{receivers: 3}
	p := NewPublisher(sender, NewBreaker(BreakerConfig{}), discard(), Config{Retries: 3})

	n, err := p.Publish(context.Background(), testEvent(t))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if n != 6 { // 3 receivers on each of 2 channels
		t.Fatalf("expected 6 subscribers, got %d", n)
	}
}

func TestPublishFailureCountsTowardBreaker(t *testing.T) {
	sender := &spySender{failAll: true}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Hour})
	p := NewPublisher(sender, breaker, discard(), Config{
		Retries: 3, Base: time.Millisecond, MaxDelay: 2 * time.Millisecond,
	})

	_, _ = p.Publish(context.Background(), testEvent(t))
	if err := breaker.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Fatal("expected breaker opened by failed attempts")
	}
}
