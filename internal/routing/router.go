package routing

import (
	"strconv"
	"strings"

	"github.com/tablewave/tablewave/internal/event"
)

// Channel name helpers. Subscribers register glob patterns against these
// shapes, e.g. "branch:*:waiters".
func BranchWaiters(branchID int64) string { return "branch:" + itoa(branchID) + ":waiters" }
func BranchKitchen(branchID int64) string { return "branch:" + itoa(branchID) + ":kitchen" }
func BranchAdmin(branchID int64) string   { return "branch:" + itoa(branchID) + ":admin" }
func SectorWaiters(sectorID int64) string { return "sector:" + itoa(sectorID) + ":waiters" }
func Session(sessionID int64) string      { return "session:" + itoa(sessionID) }
func User(userID int64) string            { return "user:" + itoa(userID) }
func TenantAdmin(tenantID int64) string   { return "tenant:" + itoa(tenantID) + ":admin" }

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

// Lifecycle stages drive which roles see an event. Stages are derived
// from the event type suffix; unknown types fall back to the waiter/admin
// pair so nothing becomes invisible.
type stage int

const (
	stagePending stage = iota
	stageSubmitted
	stageKitchen
	stageTerminal
	stagePayment
)

func stageOf(eventType string) stage {
	switch {
	case strings.HasPrefix(eventType, "PAYMENT_"):
		return stagePayment
	case strings.HasSuffix(eventType, "_SUBMITTED"):
		return stageSubmitted
	case strings.HasSuffix(eventType, "_CONFIRMED"),
		strings.HasSuffix(eventType, "_PREPARING"),
		strings.HasSuffix(eventType, "_READY"):
		return stageKitchen
	case strings.HasSuffix(eventType, "_SERVED"),
		strings.HasSuffix(eventType, "_COMPLETED"),
		strings.HasSuffix(eventType, "_CANCELLED"),
		strings.HasSuffix(eventType, "_CLOSED"):
		return stageTerminal
	default:
		return stagePending
	}
}

func terminal(s stage) bool { return s == stageTerminal }

// Resolve maps an event to its destination channels. Routing is selective
// by lifecycle stage, not broadcast. When a sector id is present the
// sector channel is emitted alongside the branch-wide waiters channel:
// stale sector assignment data must never make an event invisible to the
// floor, so the dual write is intentional.
func Resolve(evt *event.Event) []string {
	set := make(map[string]struct{}, 6)
	s := stageOf(evt.Type)

	admin := TenantAdmin(evt.TenantID)
	if evt.BranchID > 0 {
		admin = BranchAdmin(evt.BranchID)
	}
	set[admin] = struct{}{}

	if evt.BranchID > 0 && s != stagePayment {
		set[BranchWaiters(evt.BranchID)] = struct{}{}
		if evt.SectorID > 0 {
			set[SectorWaiters(evt.SectorID)] = struct{}{}
		}
		if s == stageKitchen {
			set[BranchKitchen(evt.BranchID)] = struct{}{}
		}
	}

	if evt.SessionID > 0 && (terminal(s) || s == stagePayment) {
		set[Session(evt.SessionID)] = struct{}{}
	}

	// Sector assignment changes are pushed straight at the affected
	// staff member in addition to the admin view.
	if strings.HasPrefix(evt.Type, "ASSIGNMENT_") && evt.Actor != nil && evt.Actor.UserID > 0 {
		set[User(evt.Actor.UserID)] = struct{}{}
	}

	channels := make([]string, 0, len(set))
	for ch := range set {
		channels = append(channels, ch)
	}
	return channels
}
