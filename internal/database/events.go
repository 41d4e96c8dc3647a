package database

import (
	"context"
	"encoding/json"
	"fmt"

	"hashvault.io/internal/ledger"
)

// Append writes a batch of ledger events in one transaction. The unique
// (component, seq) key makes a replayed or duplicated append fail instead of
// forking the journal.
func (db *DB) Append(ctx context.Context, events []ledger.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO events (component, seq, event_type, occurred_at, payload) VALUES (?, ?, ?, ?, ?)",
			e.Component, e.Seq, string(e.Type), e.At, payload,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Load returns a component's events in replay order.
func (db *DB) Load(ctx context.Context, component string) ([]ledger.Event, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT component, seq, event_type, occurred_at, payload FROM events WHERE component = ? ORDER BY seq ASC",
		component,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Tail returns up to n most recent events across all components, newest
// last.
func (db *DB) Tail(ctx context.Context, n int) ([]ledger.Event, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT component, seq, event_type, occurred_at, payload FROM (SELECT * FROM events ORDER BY id DESC LIMIT ?) t ORDER BY id ASC",
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (ledger.Event, error) {
	var (
		e       ledger.Event
		typ     string
		payload []byte
	)
	if err := row.Scan(&e.Component, &e.Seq, &typ, &e.At, &payload); err != nil {
		return ledger.Event{}, err
	}
	e.Type = ledger.EventType(typ)
	if err := json.Unmarshal(payload, &e.Data); err != nil {
		return ledger.Event{}, fmt.Errorf("unmarshal event payload: %w", err)
	}
	return e, nil
}
