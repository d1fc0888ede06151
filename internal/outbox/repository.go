package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tablewave/tablewave/libs/db"
	otelx "github.com/tablewave/tablewave/libs/otel"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPublished  Status = "PUBLISHED"
	StatusFailed     Status = "FAILED"
)

// Record is the durable outbox row. It is created in the same transaction
// as the business mutation and only ever mutated by the processor
// afterward. Rows are never deleted; the table is the audit trail.
type Record struct {
	ID            int64
	TenantID      int64
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       []byte // serialized Event
	Status        Status
	RetryCount    int
	LastError     string
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes a PENDING row inside the caller's business transaction,
// so the event record commits or rolls back with the business data.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (tenant_id, event_type, aggregate_type, aggregate_id, payload, status, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', $6, $7)
	`, rec.TenantID, rec.EventType, rec.AggregateType, rec.AggregateID, rec.Payload, traceparent, tracestate)
	return err
}

func (r *Repository) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, event_type, aggregate_type, aggregate_id, payload,
		       status, retry_count, COALESCE(last_error, ''), COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at
		FROM outbox_events
		WHERE status = 'PENDING'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.EventType, &rec.AggregateType, &rec.AggregateID,
			&rec.Payload, &rec.Status, &rec.RetryCount, &rec.LastError, &rec.Traceparent, &rec.Tracestate, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Claim flips a PENDING row to PROCESSING. The status guard makes the
// claim optimistic: with several processor instances racing, exactly one
// sees a row affected and owns the publish.
func (r *Repository) Claim(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'PROCESSING'
		WHERE id = $1 AND status = 'PENDING'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'PUBLISHED', processed_at = now()
		WHERE id = $1
	`, id)
	return err
}

// RecordFailure increments the retry counter and either returns the row
// to PENDING for the next cycle or, at the retry ceiling, parks it as
// FAILED for manual intervention.
func (r *Repository) RecordFailure(ctx context.Context, id int64, retryCount int, maxRetries int, cause string) error {
	status := StatusPending
	if retryCount >= maxRetries {
		status = StatusFailed
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, retry_count = $3, last_error = $4
		WHERE id = $1
	`, id, status, retryCount, cause)
	return err
}
