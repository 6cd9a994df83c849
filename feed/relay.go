package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one change notification drained from the outbox.
type Event struct {
	Table     string         `json:"table"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultBatchSize    = 10
	subscriberBuffer    = 16
)

// Relay drains pending outbox rows and fans them out to in-process
// subscribers. Rows are claimed with FOR UPDATE SKIP LOCKED so multiple
// relays never deliver the same row twice. Slow subscribers drop events
// rather than stall the drain loop.
type Relay struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	interval time.Duration

	mu   sync.Mutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	table string
	ch    chan Event
}

// NewRelay creates a relay polling the outbox on a fixed interval.
func NewRelay(pool *pgxpool.Pool, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		pool:     pool,
		logger:   logger,
		interval: defaultPollInterval,
		subs:     map[int]subscriber{},
	}
}

// WithInterval overrides the poll interval, for tests.
func (r *Relay) WithInterval(d time.Duration) *Relay {
	r.interval = d
	return r
}

// Subscribe registers interest in events from one table, or all tables when
// table is empty. The returned cancel func must be called to release the
// subscription.
func (r *Relay) Subscribe(table string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = subscriber{table: table, ch: ch}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
	return ch, cancel
}

// Run drains the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := r.drainBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("outbox drain failed", "error", err)
		}
	}
}

func (r *Relay) drainBatch(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, defaultBatchSize)
	if err != nil {
		return err
	}

	type pending struct {
		id      string
		topic   string
		payload []byte
	}
	batch := make([]pending, 0, defaultBatchSize)
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.topic, &p.payload); err != nil {
			rows.Close()
			return err
		}
		batch = append(batch, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(batch) == 0 {
		return tx.Commit(ctx)
	}

	for _, p := range batch {
		ev, ok := decodeEvent(p.topic, p.payload)
		if !ok {
			r.logger.Warn("dropping malformed outbox row", "id", p.id, "topic", p.topic)
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status='dead', attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, p.id); err != nil {
				return err
			}
			continue
		}
		r.broadcast(ev)
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, p.id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Relay) broadcast(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.table != "" && sub.table != ev.Table {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			r.logger.Debug("subscriber buffer full, dropping event", "table", ev.Table)
		}
	}
}

func decodeEvent(topic string, payload []byte) (Event, bool) {
	table, eventType, ok := strings.Cut(topic, ":")
	if !ok || table == "" || eventType == "" {
		return Event{}, false
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, false
	}
	return Event{Table: table, EventType: eventType, Payload: body}, true
}
