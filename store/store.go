// Package store persists every extraction attempt in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/use-agent/pluck/extractor"
	"github.com/use-agent/pluck/models"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Record is one attempt to be written. Content is nil for failures.
type Record struct {
	URL          string
	Selector     string
	SelectorType string
	Content      []models.ExtractedElement
	Status       string
	ErrorMessage string
}

// RecordFromResult builds the history row for an extraction outcome.
func RecordFromResult(req models.ExtractionRequest, res extractor.Result) Record {
	selectorType := req.SelectorType
	if selectorType == "" {
		selectorType = models.SelectorCSS
	}
	rec := Record{
		URL:          req.URL,
		Selector:     req.Selector,
		SelectorType: selectorType,
	}
	if res.OK() {
		rec.Status = models.StatusSuccess
		rec.Content = res.Elements
	} else {
		rec.Status = models.StatusFailed
		rec.ErrorMessage = res.Reason()
	}
	return rec
}

// Store is the scraping history table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" is accepted.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: writes are serialized and ":memory:" stays a single
	// database instead of one per pooled connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert writes rec and returns its id.
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	var content, errMsg sql.NullString
	if rec.Content != nil {
		b, err := json.Marshal(rec.Content)
		if err != nil {
			return 0, fmt.Errorf("store: encode content: %w", err)
		}
		content = sql.NullString{String: string(b), Valid: true}
	}
	if rec.ErrorMessage != "" {
		errMsg = sql.NullString{String: rec.ErrorMessage, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`insert into scraping_history (url, selector, selector_type, content, status, error_message)
		 values (?, ?, ?, ?, ?, ?)`,
		rec.URL, rec.Selector, rec.SelectorType, content, rec.Status, errMsg,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert: %w", err)
	}
	return res.LastInsertId()
}

// List returns up to limit records, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]*models.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, url, selector, selector_type, content, status, error_message,
		        strftime('%Y-%m-%dT%H:%M:%SZ', timestamp)
		 from scraping_history
		 order by timestamp desc, id desc
		 limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	records := make([]*models.HistoryRecord, 0)
	for rows.Next() {
		var (
			r       models.HistoryRecord
			content sql.NullString
			errMsg  sql.NullString
			ts      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.URL, &r.Selector, &r.SelectorType, &content, &r.Status, &errMsg, &ts); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		if content.Valid && json.Valid([]byte(content.String)) {
			r.Content = json.RawMessage(content.String)
		}
		if errMsg.Valid {
			msg := errMsg.String
			r.ErrorMessage = &msg
		}
		r.Timestamp = ts.String
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return records, nil
}

// Delete removes the record with id. It reports false when no such record
// exists.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from scraping_history where id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete: %w", err)
	}
	return n > 0, nil
}
