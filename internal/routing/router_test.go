package routing

import (
	"sort"
	"testing"

	"github.com/tablewave/tablewave/internal/event"
)

func resolve(t *testing.T, evt *event.Event) []string {
	t.Helper()
	channels := Resolve(evt)
	sort.Strings(channels)
	return channels
}

func mustEvent(t *testing.T, typ string, tenantID, branchID int64) *event.Event {
	t.Helper()
	evt, err := event.New(typ, tenantID, branchID, map[string]any{"order_id": 42})
	if err != nil {
		t.Fatalf("event.New failed: %v", err)
	}
	return evt
}

func TestResolveSubmittedWithSector(t *testing.T) {
	evt := mustEvent(t, "ORDER_SUBMITTED", 1, 5)
	evt.SectorID = 2

	got := resolve(t, evt)
	want := []string{"branch:5:admin", "branch:5:waiters", "sector:2:waiters"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestResolveSectorDualWrite(t *testing.T) {
	evt := mustEvent(t, "ORDER_SUBMITTED", 1, 5)
	evt.SectorID = 2

	got := Resolve(evt)
	hasSector, hasBranch := false, false
	for _, ch := range got {
		if ch == "sector:2:waiters" {
			hasSector = true
		}
		if ch == "branch:5:waiters" {
			hasBranch = true
		}
	}
	if !hasSector || !hasBranch {
		t.Fatalf("sector event must hit both sector and branch waiters, got %v", got)
	}
}

func TestResolveKitchenStage(t *testing.T) {
	got := resolve(t, mustEvent(t, "ORDER_CONFIRMED", 1, 5))
	want := []string{"branch:5:admin", "branch:5:kitchen", "branch:5:waiters"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestResolveTerminalIncludesSession(t *testing.T) {
	evt := mustEvent(t, "ORDER_SERVED", 1, 5)
	evt.SessionID = 9

	found := false
	for _, ch := range Resolve(evt) {
		if ch == "session:9" {
			found = true
		}
	}
	if !found {
		t.Fatal("terminal event should route to the session channel")
	}
}

func TestResolvePendingExcludesKitchenAndSession(t *testing.T) {
	evt := mustEvent(t, "ORDER_PENDING", 1, 5)
	evt.SessionID = 9

	for _, ch := range Resolve(evt) {
		if ch == "branch:5:kitchen" || ch == "session:9" {
			t.Fatalf("pending event must not route to %s", ch)
		}
	}
}

func TestResolveTenantWide(t *testing.T) {
	got := resolve(t, mustEvent(t, "MENU_UPDATED", 3, 0))
	if len(got) != 1 || got[0] != "tenant:3:admin" {
		t.Fatalf("expected tenant admin channel only, got %v", got)
	}
}

func TestResolvePaymentRoutesAdminAndSession(t *testing.T) {
	evt := mustEvent(t, "PAYMENT_COMPLETED", 1, 5)
	evt.SessionID = 9

	got := resolve(t, evt)
	want := []string{"branch:5:admin", "session:9"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
