// Package sqlite persists components and their history in a single SQLite file.
// Writers are serialized by SQLite itself: every unit of work opens with BEGIN IMMEDIATE
// and waits at most the configured lock timeout for the write lock.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/repository"
)

var _ repository.ComponentStore = (*Store)(nil)

const (
	defaultLockTimeout = 5 * time.Second
	dateLayout         = "2006-01-02"
	memoryPath         = ":memory:"
)

const schema = `
CREATE TABLE IF NOT EXISTS components (
	id              TEXT PRIMARY KEY,
	serial_number   TEXT NOT NULL,
	type            TEXT NOT NULL,
	date_received   TEXT NOT NULL,
	arrived_from    TEXT NOT NULL DEFAULT '',
	primary_fault   TEXT NOT NULL DEFAULT '',
	secondary_fault TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	update_date     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS component_hist (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	component_id TEXT NOT NULL REFERENCES components (id),
	version      INTEGER NOT NULL CHECK (version > 0),
	timestamp    TEXT NOT NULL,
	updated_by   TEXT NOT NULL,
	changes      TEXT NOT NULL,
	full_state   TEXT NOT NULL,
	UNIQUE (component_id, version)
);
`

const componentColumns = `id, serial_number, type, date_received, arrived_from, primary_fault, secondary_fault, status, update_date`

const historyColumns = `component_id, version, timestamp, updated_by, changes, full_state`

// Store is a SQLite-backed repository.ComponentStore.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path. A non-positive lockTimeout
// falls back to five seconds.
func NewStore(path string, lockTimeout time.Duration) (*Store, error) {
	if path == "" {
		path = "comptrack.db"
	}
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", lockTimeout.Milliseconds()))
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_txlock", "immediate")
	if path != memoryPath {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	db, err := sql.Open("sqlite", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == memoryPath {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RunInTx applies fn inside one IMMEDIATE transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.ComponentTx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError("begin transaction", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, &transaction{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translateError("commit transaction", err)
	}
	return nil
}

// Get returns the committed row for id.
func (s *Store) Get(ctx context.Context, id string) (domain.Component, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+componentColumns+` FROM components WHERE id = ?`, id)
	c, err := scanComponent(row)
	if err != nil {
		return domain.Component{}, translateError(fmt.Sprintf("get component %s", id), err)
	}
	return c, nil
}

// ListAll returns every committed row ordered by id.
func (s *Store) ListAll(ctx context.Context) ([]domain.Component, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+componentColumns+` FROM components ORDER BY id`)
	if err != nil {
		return nil, translateError("list components", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, translateError("scan component", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("list components", err)
	}
	return out, nil
}

// ListHistory returns the entries of one component ascending by version.
func (s *Store) ListHistory(ctx context.Context, componentID string) ([]domain.HistoryEntry, error) {
	byID, err := s.queryHistory(ctx, `SELECT `+historyColumns+` FROM component_hist WHERE component_id = ? ORDER BY version`, componentID)
	if err != nil {
		return nil, err
	}
	entries := byID[componentID]
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

// ListHistoryByComponentIDs returns the histories of several components keyed by id.
func (s *Store) ListHistoryByComponentIDs(ctx context.Context, componentIDs []string) (map[string][]domain.HistoryEntry, error) {
	if len(componentIDs) == 0 {
		return map[string][]domain.HistoryEntry{}, nil
	}
	placeholders := make([]byte, 0, 2*len(componentIDs))
	args := make([]any, len(componentIDs))
	for i, id := range componentIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	query := `SELECT ` + historyColumns + ` FROM component_hist WHERE component_id IN (` + string(placeholders) + `) ORDER BY component_id, version`
	return s.queryHistory(ctx, query, args...)
}

// GetHistoryByVersion returns one committed history entry.
func (s *Store) GetHistoryByVersion(ctx context.Context, componentID string, version int) (domain.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM component_hist WHERE component_id = ? AND version = ?`, componentID, version)
	entry, err := scanHistory(row)
	if err != nil {
		return domain.HistoryEntry{}, translateError(fmt.Sprintf("get %s version %d", componentID, version), err)
	}
	return entry, nil
}

// ReplaceAll discards every row and stores records in one transaction.
func (s *Store) ReplaceAll(ctx context.Context, records []repository.ComponentRecord) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError("begin restore", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM component_hist`); err != nil {
		return translateError("clear history", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM components`); err != nil {
		return translateError("clear components", err)
	}
	w := &transaction{tx: tx}
	for _, record := range records {
		if err := w.Put(ctx, record.Component); err != nil {
			return err
		}
		for _, entry := range record.History {
			if err := w.AppendHistory(ctx, entry); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return translateError("commit restore", err)
	}
	return nil
}

func (s *Store) queryHistory(ctx context.Context, query string, args ...any) (map[string][]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError("list history", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string][]domain.HistoryEntry)
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, translateError("scan history", err)
		}
		out[entry.ComponentID] = append(out[entry.ComponentID], entry)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("list history", err)
	}
	return out, nil
}

type transaction struct {
	tx *sql.Tx
}

// GetForUpdate reads inside the IMMEDIATE transaction, which already holds the write lock.
func (t *transaction) GetForUpdate(ctx context.Context, id string) (domain.Component, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+componentColumns+` FROM components WHERE id = ?`, id)
	c, err := scanComponent(row)
	if err != nil {
		return domain.Component{}, translateError(fmt.Sprintf("lock component %s", id), err)
	}
	return c, nil
}

func (t *transaction) Put(ctx context.Context, c domain.Component) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO components (`+componentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			serial_number = excluded.serial_number,
			type = excluded.type,
			date_received = excluded.date_received,
			arrived_from = excluded.arrived_from,
			primary_fault = excluded.primary_fault,
			secondary_fault = excluded.secondary_fault,
			status = excluded.status,
			update_date = excluded.update_date`,
		c.ID, c.SerialNumber, c.Type, c.FieldValue(domain.FieldDateReceived), c.ArrivedFrom,
		c.PrimaryFault, c.SecondaryFault, string(c.Status), formatTime(c.UpdateDate),
	)
	if err != nil {
		return translateError(fmt.Sprintf("write component %s", c.ID), err)
	}
	return nil
}

func (t *transaction) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	changes, fullState, err := repository.EncodeHistoryPayload(entry)
	if err != nil {
		return domain.NewStorageError("encode history", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO component_hist (`+historyColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ComponentID, entry.Version, formatTime(entry.Timestamp), entry.UpdatedBy, string(changes), string(fullState),
	)
	if err != nil {
		return translateError(fmt.Sprintf("append %s version %d", entry.ComponentID, entry.Version), err)
	}
	return nil
}

func (t *transaction) MaxVersion(ctx context.Context, componentID string) (int, error) {
	var version int
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM component_hist WHERE component_id = ?`, componentID).Scan(&version)
	if err != nil {
		return 0, translateError(fmt.Sprintf("max version of %s", componentID), err)
	}
	return version, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComponent(row rowScanner) (domain.Component, error) {
	var (
		c            domain.Component
		dateReceived string
		status       string
		updateDate   string
	)
	if err := row.Scan(&c.ID, &c.SerialNumber, &c.Type, &dateReceived, &c.ArrivedFrom,
		&c.PrimaryFault, &c.SecondaryFault, &status, &updateDate); err != nil {
		return domain.Component{}, err
	}
	c.Status = domain.Status(status)
	if dateReceived != "" {
		d, err := time.Parse(dateLayout, dateReceived)
		if err != nil {
			return domain.Component{}, fmt.Errorf("parse date_received of %s: %w", c.ID, err)
		}
		c.DateReceived = domain.DateOf(d, time.UTC)
	}
	ts, err := parseTime(updateDate)
	if err != nil {
		return domain.Component{}, fmt.Errorf("parse update_date of %s: %w", c.ID, err)
	}
	c.UpdateDate = ts
	return c, nil
}

func scanHistory(row rowScanner) (domain.HistoryEntry, error) {
	var (
		entry     domain.HistoryEntry
		timestamp string
		changes   string
		fullState string
	)
	if err := row.Scan(&entry.ComponentID, &entry.Version, &timestamp, &entry.UpdatedBy, &changes, &fullState); err != nil {
		return domain.HistoryEntry{}, err
	}
	ts, err := parseTime(timestamp)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("parse timestamp of %s v%d: %w", entry.ComponentID, entry.Version, err)
	}
	entry.Timestamp = ts
	if err := repository.DecodeHistoryPayload([]byte(changes), []byte(fullState), &entry); err != nil {
		return domain.HistoryEntry{}, err
	}
	return entry, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

// translateError maps driver errors onto the domain taxonomy.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch {
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %s: database is locked", domain.ErrConflict, op)
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s: %v", domain.ErrConflict, op, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewStorageError(op, err)
}
