package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Writer appends change events to the transactional outbox. It rides the
// caller's transaction so an event is durable exactly when the change it
// describes commits.
type Writer struct{}

// NewWriter creates an outbox writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue inserts one outbox row inside tx. The topic encodes the source
// table and event type, for example "issues:UPDATE".
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, table, eventType string, payload map[string]any) error {
	if table == "" || eventType == "" {
		return fmt.Errorf("feed: enqueue: missing table or event type")
	}
	if payload == nil {
		payload = map[string]any{}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("feed: marshal outbox payload: %w", err)
	}

	const insertSQL = `
INSERT INTO outbox (topic, payload)
VALUES ($1, $2);
`
	if _, err := tx.Exec(ctx, insertSQL, Topic(table, eventType), payloadBytes); err != nil {
		return fmt.Errorf("feed: insert outbox message: %w", err)
	}
	return nil
}

// Topic builds the outbox topic for a table and event type.
func Topic(table, eventType string) string {
	return table + ":" + eventType
}
