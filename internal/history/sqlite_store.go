package history

import (
	"fmt"
	"sync"
	"time"

	"crawshaw.io/sqlite"
	"github.com/google/uuid"
)

// DefaultRecentLimit is used when Recent is called with a non-positive limit.
const DefaultRecentLimit = 10

// SQLiteStore is an implementation of Store that uses SQLite.
type SQLiteStore struct {
	mu     sync.Mutex // a single sqlite.Conn must not be shared across goroutines
	conn   *sqlite.Conn
	dbPath string
}

// NewSQLiteStore creates a new SQLiteStore instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Initialize initializes the store with the given database path.
func (s *SQLiteStore) Initialize(dbPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dbPath = dbPath

	conn, err := sqlite.OpenConn(dbPath, sqlite.SQLITE_OPEN_CREATE|sqlite.SQLITE_OPEN_READWRITE)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	s.conn = conn

	if err := s.exec(createTableSQL); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("failed to create table: %w", err)
	}
	if err := s.exec(createIndexSQL); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS summaries (
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	model TEXT NOT NULL,
	requested_model TEXT NOT NULL DEFAULT '',
	used_fallback INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL,
	original_words INTEGER NOT NULL,
	summary_words INTEGER NOT NULL,
	compression_ratio REAL NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS summaries_created_at ON summaries (created_at);`

const selectColumns = `id, fingerprint, model, requested_model, used_fallback, summary,
	original_words, summary_words, compression_ratio, duration_ms, created_at`

func (s *SQLiteStore) exec(query string) error {
	stmt, err := s.conn.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Reset()

	if _, err := stmt.Step(); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ready() error {
	if s.conn == nil {
		return fmt.Errorf("history store is not initialized")
	}
	return nil
}

// Close closes the store and releases any resources.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// Save stores the record in the database.
func (s *SQLiteStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	insertSQL := `
	INSERT OR REPLACE INTO summaries (` + selectColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	stmt, err := s.conn.Prepare(insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Reset()

	// Bind parameters - indices in sqlite are 1-based
	stmt.BindText(1, rec.ID)
	stmt.BindText(2, rec.Fingerprint)
	stmt.BindText(3, rec.Model)
	stmt.BindText(4, rec.RequestedModel)
	stmt.BindBool(5, rec.UsedFallback)
	stmt.BindText(6, rec.Summary)
	stmt.BindInt64(7, int64(rec.OriginalWords))
	stmt.BindInt64(8, int64(rec.SummaryWords))
	stmt.BindFloat(9, rec.CompressionRatio)
	stmt.BindInt64(10, rec.DurationMs)
	stmt.BindInt64(11, rec.CreatedAt.UnixNano())

	if _, err := stmt.Step(); err != nil {
		return fmt.Errorf("failed to insert summary record: %w", err)
	}
	return nil
}

// Get returns the record with the given id.
func (s *SQLiteStore) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	stmt, err := s.conn.Prepare(`SELECT ` + selectColumns + ` FROM summaries WHERE id = ?;`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare select statement: %w", err)
	}
	defer stmt.Reset()

	stmt.BindText(1, id)

	hasRow, err := stmt.Step()
	if err != nil {
		return nil, fmt.Errorf("failed to execute select statement: %w", err)
	}
	if !hasRow {
		return nil, ErrNotFound
	}

	rec := scanRecord(stmt)
	return &rec, nil
}

// Recent returns the newest records first.
func (s *SQLiteStore) Recent(limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	stmt, err := s.conn.Prepare(`SELECT ` + selectColumns + ` FROM summaries ORDER BY created_at DESC, id LIMIT ?;`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare select statement: %w", err)
	}
	defer stmt.Reset()

	stmt.BindInt64(1, int64(limit))

	records := make([]Record, 0, limit)
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("failed to execute select statement: %w", err)
		}
		if !hasRow {
			break
		}
		records = append(records, scanRecord(stmt))
	}
	return records, nil
}

// Delete removes the record with the given id.
func (s *SQLiteStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return false, err
	}

	stmt, err := s.conn.Prepare(`DELETE FROM summaries WHERE id = ?;`)
	if err != nil {
		return false, fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer stmt.Reset()

	stmt.BindText(1, id)
	if _, err := stmt.Step(); err != nil {
		return false, fmt.Errorf("failed to delete summary record: %w", err)
	}
	return s.conn.Changes() > 0, nil
}

// Clear removes all records.
func (s *SQLiteStore) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	if err := s.exec(`DELETE FROM summaries;`); err != nil {
		return 0, fmt.Errorf("failed to clear summaries: %w", err)
	}
	return s.conn.Changes(), nil
}

// Column indices are 0-based and follow selectColumns.
func scanRecord(stmt *sqlite.Stmt) Record {
	return Record{
		ID:               stmt.ColumnText(0),
		Fingerprint:      stmt.ColumnText(1),
		Model:            stmt.ColumnText(2),
		RequestedModel:   stmt.ColumnText(3),
		UsedFallback:     stmt.ColumnInt64(4) != 0,
		Summary:          stmt.ColumnText(5),
		OriginalWords:    int(stmt.ColumnInt64(6)),
		SummaryWords:     int(stmt.ColumnInt64(7)),
		CompressionRatio: stmt.ColumnFloat(8),
		DurationMs:       stmt.ColumnInt64(9),
		CreatedAt:        time.Unix(0, stmt.ColumnInt64(10)),
	}
}
