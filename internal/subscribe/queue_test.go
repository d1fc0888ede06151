package subscribe

import (
	"strconv"
	"testing"
)

func msg(i int) Message {
	return Message{Channel: "branch:5:waiters", Payload: []byte(strconv.Itoa(i))}
}

func TestQueueBoundEvictsOldest(t *testing.T) {
	q := NewQueue(500, false)

	drops := 0
	for i := 0; i < 600; i++ {
		if q.Push(msg(i)) {
			drops++
		}
	}

	if q.Len() != 500 {
		t.Fatalf("expected 500 retained, got %d", q.Len())
	}
	if drops != 100 {
		t.Fatalf("expected 100 drops, got %d", drops)
	}

	out := q.Drain(500)
	if string(out[0].Payload) != "100" {
		t.Fatalf("expected oldest survivor 100, got %s", out[0].Payload)
	}
	if string(out[499].Payload) != "599" {
		t.Fatalf("expected newest 599, got %s", out[499].Payload)
	}
}

func TestQueueDrainLimitsAndOrders(t *testing.T) {
	q := NewQueue(10, false)
	for i := 0; i < 5; i++ {
		q.Push(msg(i))
	}

	out := q.Drain(3)
	if len(out) != 3 {
		t.Fatalf("expected 3 drained, got %d", len(out))
	}
	for i, m := range out {
		if string(m.Payload) != strconv.Itoa(i) {
			t.Fatalf("order broken at %d: %s", i, m.Payload)
		}
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 remaining, got %d", q.Len())
	}
}

func TestRequeueAppendsByDefault(t *testing.T) {
	q := NewQueue(10, false)
	q.Push(msg(1))
	q.Push(msg(2))
	q.Requeue(msg(0))

	out := q.Drain(3)
	if string(out[2].Payload) != "0" {
		t.Fatalf("default mode must append redelivered entries, got order %s,%s,%s",
			out[0].Payload, out[1].Payload, out[2].Payload)
	}
	if !out[2].Redelivered {
		t.Fatal("requeued message should be marked redelivered")
	}
}

func TestRequeueFrontWhenStrict(t *testing.T) {
	q := NewQueue(10, true)
	q.Push(msg(1))
	q.Push(msg(2))
	q.Requeue(msg(0))

	out := q.Drain(3)
	if string(out[0].Payload) != "0" {
		t.Fatalf("strict mode must requeue at the front, got order %s,%s,%s",
			out[0].Payload, out[1].Payload, out[2].Payload)
	}
}

func TestRequeueFrontOnFullQueue(t *testing.T) {
	q := NewQueue(3, true)
	for i := 1; i <= 3; i++ {
		q.Push(msg(i))
	}
	if !q.Requeue(msg(0)) {
		t.Fatal("requeue on a full queue should report an eviction")
	}
	if q.Len() != 3 {
		t.Fatalf("capacity violated: %d", q.Len())
	}
	out := q.Drain(3)
	if string(out[0].Payload) != "0" {
		t.Fatalf("redelivered entry should lead, got %s", out[0].Payload)
	}
	if string(out[1].Payload) != "2" || string(out[2].Payload) != "3" {
		t.Fatalf("eviction must take the oldest entry, got order %s,%s,%s",
			out[0].Payload, out[1].Payload, out[2].Payload)
	}
}
