package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/tablewave/tablewave/internal/event"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[int64]*Record
}

func newFakeStore(records ...Record) *fakeStore {
	s := &fakeStore{records: make(map[int64]*Record)}
	for i := range records {
		rec := records[i]
		s.records[rec.ID] = &rec
	}
	return s
}

func (s *fakeStore) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Status == StatusPending && len(out) < limit {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *fakeStore) Claim(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != StatusPending {
		return false, nil
	}
	rec.Status = StatusProcessing
	return true, nil
}

func (s *fakeStore) MarkPublished(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].Status = StatusPublished
	return nil
}

func (s *fakeStore) RecordFailure(ctx context.Context, id int64, retryCount, maxRetries int, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	rec.RetryCount = retryCount
	rec.LastError = cause
	if retryCount >= maxRetries {
		rec.Status = StatusFailed
	} else {
		rec.Status = StatusPending
	}
	return nil
}

func (s *fakeStore) status(id int64) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Status
}

type fakeBroker struct {
	mu        sync.Mutex
	publishes int
	fail      bool
}

func (b *fakeBroker) Publish(ctx context.Context, evt *event.Event) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishes++
	if b.fail {
		return 0, errors.New("broker unreachable")
	}
	return 1, nil
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishes
}

func pendingRecord(t *testing.T, id int64) Record {
	t.Helper()
	evt, err := event.New("PAYMENT_COMPLETED", 1, 5, map[string]any{"payment_id": 7})
	if err != nil {
		t.Fatalf("event.New failed: %v", err)
	}
	payload, err := evt.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return Record{ID: id, TenantID: 1, EventType: evt.Type, Status: StatusPending, Payload: payload}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCyclePublishesAndMarks(t *testing.T) {
	store := newFakeStore(pendingRecord(t, 1))
	broker := &fakeBroker{}
	p := NewProcessor(store, broker, testLogger(), ProcessorConfig{})

	if err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if broker.count() != 1 {
		t.Fatalf("expected 1 publish, got %d", broker.count())
	}
	if store.status(1) != StatusPublished {
		t.Fatalf("expected PUBLISHED, got %s", store.status(1))
	}
}

func TestConcurrentClaimPublishesOnce(t *testing.T) {
	store := newFakeStore(pendingRecord(t, 1))
	broker := &fakeBroker{}
	a := NewProcessor(store, broker, testLogger(), ProcessorConfig{})
	b := NewProcessor(store, broker, testLogger(), ProcessorConfig{})

	var wg sync.WaitGroup
	for _, p := range []*Processor{a, b} {
		wg.Add(1)
		go func(p *Processor) {
			defer wg.Done()
			_ = p.Cycle(context.Background())
		}(p)
	}
	wg.Wait()

	if broker.count() != 1 {
		t.Fatalf("expected exactly one publish across instances, got %d", broker.count())
	}
	if store.status(1) != StatusPublished {
		t.Fatalf("expected PUBLISHED, got %s", store.status(1))
	}
}

func TestFailureRetriesThenFails(t *testing.T) {
	store := newFakeStore(pendingRecord(t, 1))
	broker := &fakeBroker{fail: true}
	p := NewProcessor(store, broker, testLogger(), ProcessorConfig{MaxRetries: 5})

	for i := 0; i < 4; i++ {
		if err := p.Cycle(context.Background()); err != nil {
			t.Fatalf("Cycle failed: %v", err)
		}
		if got := store.status(1); got != StatusPending {
			t.Fatalf("attempt %d: expected PENDING, got %s", i+1, got)
		}
	}
	if err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if got := store.status(1); got != StatusFailed {
		t.Fatalf("expected FAILED after retry ceiling, got %s", got)
	}
	if broker.count() != 5 {
		t.Fatalf("expected 5 attempts, got %d", broker.count())
	}
}

func TestMalformedPayloadCountsAsFailure(t *testing.T) {
	rec := pendingRecord(t, 1)
	rec.Payload = []byte("{broken")
	store := newFakeStore(rec)
	broker := &fakeBroker{}
	p := NewProcessor(store, broker, testLogger(), ProcessorConfig{MaxRetries: 5})

	if err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if broker.count() != 0 {
		t.Fatal("malformed payload must not reach the broker")
	}
	if store.status(1) != StatusPending {
		t.Fatalf("expected PENDING with retry recorded, got %s", store.status(1))
	}
}
