package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/pkg/events"
)

// Schema creates the outbox table relayed by Worker.
const Schema = `CREATE TABLE IF NOT EXISTS outbox (
id BIGSERIAL PRIMARY KEY,
event_id UUID NOT NULL UNIQUE,
booking_id BIGINT NOT NULL,
event_type TEXT NOT NULL,
topic TEXT NOT NULL,
payload BYTEA NOT NULL,
published BOOLEAN NOT NULL DEFAULT FALSE,
created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (id) WHERE published = false`

// Writer records events in the outbox table for Worker to relay. Each event
// is its own insert, written after the booking change it describes has been
// committed; a failed insert loses that event and is logged by the caller.
type Writer struct {
	db     *sql.DB
	prefix string
}

func NewWriter(db *sql.DB, subjectPrefix string) *Writer {
	return &Writer{db: db, prefix: subjectPrefix}
}

// Migrate applies Schema.
func (w *Writer) Migrate(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate outbox: %w", err)
	}
	return nil
}

// Publish satisfies domain.EventPublisher.
func (w *Writer) Publish(ctx context.Context, event domain.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO outbox (event_id, booking_id, event_type, topic, payload) VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.BookingID, string(event.Type), events.Subject(w.prefix, event.Type), payload)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
