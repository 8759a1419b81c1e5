package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
)

// Connection event names stored in connection_events.event.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventLinkLost     = "link_lost"
)

// Reading is a stored decoded notification.
type Reading struct {
	ID   int64
	Data bike.Data
}

// ConnectionEvent is a stored link change.
type ConnectionEvent struct {
	ID         int64
	OccurredAt time.Time
	Address    string
	Event      string
	Reason     string
}

// History provides data access for readings and connection events.
type History struct {
	db *DB
}

// NewHistory creates a history repository over db.
func NewHistory(db *DB) *History {
	return &History{db: db}
}

// AddReading stores a decoded reading. Absent fields are stored as NULL.
func (h *History) AddReading(ctx context.Context, d bike.Data) (int64, error) {
	var (
		battery, assist sql.NullInt64
		speed           sql.NullFloat64
	)
	if v, ok := d.Battery.Get(); ok {
		battery = sql.NullInt64{Int64: int64(v), Valid: true}
	}
	if v, ok := d.Assist.Get(); ok {
		assist = sql.NullInt64{Int64: int64(v), Valid: true}
	}
	if v, ok := d.Speed.Get(); ok {
		speed = sql.NullFloat64{Float64: v, Valid: true}
	}

	res, err := h.db.ExecContext(ctx, `
		INSERT INTO readings (captured_at, battery, assist, speed, raw)
		VALUES (?, ?, ?, ?, ?)
	`, d.CapturedAt.UTC(), battery, assist, speed, d.Raw)
	if err != nil {
		return 0, fmt.Errorf("inserting reading: %w", err)
	}
	return res.LastInsertId()
}

// AddConnectionEvent stores a link change.
func (h *History) AddConnectionEvent(ctx context.Context, e ConnectionEvent) (int64, error) {
	res, err := h.db.ExecContext(ctx, `
		INSERT INTO connection_events (occurred_at, address, event, reason)
		VALUES (?, ?, ?, ?)
	`, e.OccurredAt.UTC(), e.Address, e.Event, e.Reason)
	if err != nil {
		return 0, fmt.Errorf("inserting connection event: %w", err)
	}
	return res.LastInsertId()
}

// RecentReadings returns up to limit readings, newest first.
func (h *History) RecentReadings(ctx context.Context, limit int) ([]Reading, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, captured_at, battery, assist, speed, raw
		FROM readings
		ORDER BY captured_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var (
			r               Reading
			battery, assist sql.NullInt64
			speed           sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Data.CapturedAt, &battery, &assist, &speed, &r.Data.Raw); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if battery.Valid {
			r.Data.Battery = bike.Some(int(battery.Int64))
		}
		if assist.Valid {
			r.Data.Assist = bike.Some(int(assist.Int64))
		}
		if speed.Valid {
			r.Data.Speed = bike.Some(speed.Float64)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// RecentConnectionEvents returns up to limit connection events, newest first.
func (h *History) RecentConnectionEvents(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, occurred_at, address, event, reason
		FROM connection_events
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Address, &e.Event, &e.Reason); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneBefore deletes readings and connection events older than t and
// returns how many rows were removed.
func (h *History) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	var total int64
	err := h.db.Transaction(func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM readings WHERE captured_at < ?",
			"DELETE FROM connection_events WHERE occurred_at < ?",
		} {
			res, err := tx.ExecContext(ctx, q, t.UTC())
			if err != nil {
				return fmt.Errorf("pruning: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("pruning: %w", err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
