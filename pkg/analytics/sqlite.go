// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT    NOT NULL,
	event_type  TEXT    NOT NULL,
	ad_unit_id  TEXT    NOT NULL,
	campaign_id TEXT    NOT NULL DEFAULT '',
	ts          INTEGER NOT NULL,
	received    INTEGER NOT NULL,
	body        TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS events_unit_ts ON events (ad_unit_id, ts);
`

// SQLiteStorage persists records in a SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens or creates the event store at path. ":memory:" keeps it
// in process.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection so ":memory:" is a single database
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Store saves an event
func (s *SQLiteStorage) Store(r *Record) error {
	body, err := json.Marshal(r.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO events (id, event_type, ad_unit_id, campaign_id, ts, received, body) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Event.ID, string(r.Event.Type), r.Event.AdUnitID, r.CampaignID,
		r.Event.Timestamp.UnixNano(), r.Received.UnixNano(), string(body),
	)
	return err
}

// Query retrieves events matching filter in insertion order
func (s *SQLiteStorage) Query(filter QueryFilter) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if !filter.StartTime.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, filter.EndTime.UnixNano())
	}
	if len(filter.EventTypes) > 0 {
		where = append(where, "event_type IN ("+placeholders(len(filter.EventTypes))+")")
		for _, t := range filter.EventTypes {
			args = append(args, string(t))
		}
	}
	if len(filter.AdUnitIDs) > 0 {
		where = append(where, "ad_unit_id IN ("+placeholders(len(filter.AdUnitIDs))+")")
		for _, id := range filter.AdUnitIDs {
			args = append(args, id)
		}
	}

	q := "SELECT campaign_id, received, body FROM events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*Record, 0)
	for rows.Next() {
		var (
			r        Record
			received int64
			body     string
		)
		if err := rows.Scan(&r.CampaignID, &received, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &r.Event); err != nil {
			return nil, fmt.Errorf("decode stored event: %w", err)
		}
		r.Received = time.Unix(0, received).UTC()
		results = append(results, &r)
	}
	return results, rows.Err()
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
