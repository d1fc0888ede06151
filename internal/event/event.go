package event

import (
	"time"

	json "github.com/goccy/go-json"
)

// MaxSize is the hard ceiling on a serialized event. Anything larger is
// rejected before a network call is attempted.
const MaxSize = 64 << 10

const SchemaVersion = 1

// Actor identifies who caused the event, for audit and filtering.
type Actor struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// Event is the unit of distribution. The payload in Entity is opaque to
// the distribution layer; TableID, SessionID and SectorID exist only to
// drive channel routing.
type Event struct {
	Type      string         `json:"type"`
	TenantID  int64          `json:"tenant_id"`
	BranchID  int64          `json:"branch_id"`
	TableID   int64          `json:"table_id,omitempty"`
	SessionID int64          `json:"session_id,omitempty"`
	SectorID  int64          `json:"sector_id,omitempty"`
	Entity    map[string]any `json:"entity"`
	Actor     *Actor         `json:"actor,omitempty"`
	TS        string         `json:"ts"`
	V         int            `json:"v"`
}

// New builds a validated event with the timestamp and schema version set.
// BranchID 0 means tenant-wide scope.
func New(eventType string, tenantID, branchID int64, entity map[string]any) (*Event, error) {
	evt := &Event{
		Type:     eventType,
		TenantID: tenantID,
		BranchID: branchID,
		Entity:   entity,
		TS:       time.Now().UTC().Format(time.RFC3339),
		V:        SchemaVersion,
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (e *Event) Validate() error {
	if e.Type == "" {
		return &ValidationError{Field: "type", Reason: "required"}
	}
	if e.TenantID <= 0 {
		return &ValidationError{Field: "tenant_id", Reason: "must be a positive integer"}
	}
	if e.BranchID < 0 {
		return &ValidationError{Field: "branch_id", Reason: "must not be negative"}
	}
	if e.TableID < 0 || e.SessionID < 0 || e.SectorID < 0 {
		return &ValidationError{Field: "routing ids", Reason: "must not be negative"}
	}
	if e.Entity == nil {
		return &ValidationError{Field: "entity", Reason: "required"}
	}
	return nil
}

// Marshal serializes the event and enforces the size ceiling. Callers get
// ErrTooLarge before any I/O happens for oversized payloads.
func (e *Event) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, &ValidationError{Field: "entity", Reason: "not serializable: " + err.Error()}
	}
	if len(raw) > MaxSize {
		return nil, ErrTooLarge
	}
	return raw, nil
}

func Unmarshal(raw []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: "malformed json"}
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return &evt, nil
}
