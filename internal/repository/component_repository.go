package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/comptrack/internal/db"
	"github.com/rpattn/comptrack/internal/domain"
)

// Postgres error codes treated as contention rather than failure.
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

const defaultLockTimeout = 5 * time.Second

// componentRepository implements ComponentStore on Postgres.
type componentRepository struct {
	conn        *db.Connection
	queries     *db.Queries
	lockTimeout time.Duration
}

// NewComponentRepository creates a Postgres-backed component store. A non-positive
// lockTimeout falls back to five seconds.
func NewComponentRepository(conn *db.Connection, lockTimeout time.Duration) ComponentStore {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &componentRepository{
		conn:        conn,
		queries:     db.New(conn.Pool),
		lockTimeout: lockTimeout,
	}
}

// RunInTx runs fn inside a Postgres transaction whose row-lock waits are bounded by the lock timeout.
func (r *componentRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ComponentTx) error) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return translateError("set lock timeout", err)
		}
		return fn(ctx, &componentTx{queries: r.queries.WithTx(tx)})
	})
	return classify("transaction", err)
}

// Get retrieves a component by ID
func (r *componentRepository) Get(ctx context.Context, id string) (domain.Component, error) {
	row, err := r.queries.GetComponent(ctx, id)
	if err != nil {
		return domain.Component{}, translateError(fmt.Sprintf("get component %s", id), err)
	}
	return buildComponent(row), nil
}

// ListAll retrieves every component
func (r *componentRepository) ListAll(ctx context.Context) ([]domain.Component, error) {
	rows, err := r.queries.ListComponents(ctx)
	if err != nil {
		return nil, translateError("list components", err)
	}
	components := make([]domain.Component, len(rows))
	for i, row := range rows {
		components[i] = buildComponent(row)
	}
	return components, nil
}

// ListHistory retrieves the history of a component ascending by version
func (r *componentRepository) ListHistory(ctx context.Context, componentID string) ([]domain.HistoryEntry, error) {
	rows, err := r.queries.ListComponentHist(ctx, componentID)
	if err != nil {
		return nil, translateError(fmt.Sprintf("list history of %s", componentID), err)
	}
	entries := make([]domain.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := buildHistoryEntry(row)
		if err != nil {
			return nil, domain.NewStorageError("decode history", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListHistoryByComponentIDs retrieves the histories of several components in one round trip
func (r *componentRepository) ListHistoryByComponentIDs(ctx context.Context, componentIDs []string) (map[string][]domain.HistoryEntry, error) {
	out := make(map[string][]domain.HistoryEntry, len(componentIDs))
	if len(componentIDs) == 0 {
		return out, nil
	}
	rows, err := r.queries.ListComponentHistByComponentIDs(ctx, componentIDs)
	if err != nil {
		return nil, translateError("list history by component ids", err)
	}
	for _, row := range rows {
		entry, err := buildHistoryEntry(row)
		if err != nil {
			return nil, domain.NewStorageError("decode history", err)
		}
		out[entry.ComponentID] = append(out[entry.ComponentID], entry)
	}
	return out, nil
}

// GetHistoryByVersion retrieves a specific history version
func (r *componentRepository) GetHistoryByVersion(ctx context.Context, componentID string, version int) (domain.HistoryEntry, error) {
	row, err := r.queries.GetComponentHistByVersion(ctx, db.GetComponentHistByVersionParams{
		ComponentID: componentID,
		Version:     int32(version),
	})
	if err != nil {
		return domain.HistoryEntry{}, translateError(fmt.Sprintf("get %s version %d", componentID, version), err)
	}
	entry, err := buildHistoryEntry(row)
	if err != nil {
		return domain.HistoryEntry{}, domain.NewStorageError("decode history", err)
	}
	return entry, nil
}

// ReplaceAll deletes every row and inserts records in a single transaction
func (r *componentRepository) ReplaceAll(ctx context.Context, records []ComponentRecord) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		q := r.queries.WithTx(tx)
		if err := q.DeleteAllComponentHist(ctx); err != nil {
			return translateError("clear history", err)
		}
		if err := q.DeleteAllComponents(ctx); err != nil {
			return translateError("clear components", err)
		}
		for _, record := range records {
			if err := q.UpsertComponent(ctx, componentParams(record.Component)); err != nil {
				return translateError(fmt.Sprintf("restore component %s", record.Component.ID), err)
			}
			for _, entry := range record.History {
				params, err := historyParams(entry)
				if err != nil {
					return err
				}
				if err := q.InsertComponentHist(ctx, params); err != nil {
					return translateError(fmt.Sprintf("restore %s version %d", entry.ComponentID, entry.Version), err)
				}
			}
		}
		return nil
	})
	return classify("replace all", err)
}

type componentTx struct {
	queries *db.Queries
}

func (t *componentTx) GetForUpdate(ctx context.Context, id string) (domain.Component, error) {
	row, err := t.queries.GetComponentForUpdate(ctx, id)
	if err != nil {
		return domain.Component{}, translateError(fmt.Sprintf("lock component %s", id), err)
	}
	return buildComponent(row), nil
}

func (t *componentTx) Put(ctx context.Context, component domain.Component) error {
	if err := t.queries.UpsertComponent(ctx, componentParams(component)); err != nil {
		return translateError(fmt.Sprintf("write component %s", component.ID), err)
	}
	return nil
}

func (t *componentTx) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	params, err := historyParams(entry)
	if err != nil {
		return err
	}
	if err := t.queries.InsertComponentHist(ctx, params); err != nil {
		return translateError(fmt.Sprintf("append %s version %d", entry.ComponentID, entry.Version), err)
	}
	return nil
}

func (t *componentTx) MaxVersion(ctx context.Context, componentID string) (int, error) {
	version, err := t.queries.GetMaxComponentVersion(ctx, componentID)
	if err != nil {
		return 0, translateError(fmt.Sprintf("max version of %s", componentID), err)
	}
	return int(version), nil
}

func componentParams(c domain.Component) db.UpsertComponentParams {
	return db.UpsertComponentParams{
		ID:             c.ID,
		SerialNumber:   c.SerialNumber,
		Type:           c.Type,
		DateReceived:   c.DateReceived.In(time.UTC),
		ArrivedFrom:    c.ArrivedFrom,
		PrimaryFault:   c.PrimaryFault,
		SecondaryFault: c.SecondaryFault,
		Status:         string(c.Status),
		UpdateDate:     c.UpdateDate,
	}
}

func historyParams(entry domain.HistoryEntry) (db.InsertComponentHistParams, error) {
	changes, fullState, err := EncodeHistoryPayload(entry)
	if err != nil {
		return db.InsertComponentHistParams{}, domain.NewStorageError("encode history", err)
	}
	return db.InsertComponentHistParams{
		ComponentID: entry.ComponentID,
		Version:     int32(entry.Version),
		Timestamp:   entry.Timestamp,
		UpdatedBy:   entry.UpdatedBy,
		Changes:     changes,
		FullState:   fullState,
	}, nil
}

func buildComponent(row db.Component) domain.Component {
	return domain.Component{
		ID:             row.ID,
		SerialNumber:   row.SerialNumber,
		Type:           row.Type,
		DateReceived:   domain.DateOf(row.DateReceived, time.UTC),
		ArrivedFrom:    row.ArrivedFrom,
		PrimaryFault:   row.PrimaryFault,
		SecondaryFault: row.SecondaryFault,
		Status:         domain.Status(row.Status),
		UpdateDate:     row.UpdateDate,
	}
}

func buildHistoryEntry(row db.ComponentHist) (domain.HistoryEntry, error) {
	entry := domain.HistoryEntry{
		ComponentID: row.ComponentID,
		Version:     int(row.Version),
		Timestamp:   row.Timestamp,
		UpdatedBy:   row.UpdatedBy,
	}
	if err := DecodeHistoryPayload(row.Changes, row.FullState, &entry); err != nil {
		return domain.HistoryEntry{}, err
	}
	return entry, nil
}

// translateError maps driver errors onto the domain taxonomy.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
			return fmt.Errorf("%w: %s: %s (%s)", domain.ErrConflict, op, pgErr.Message, pgErr.Code)
		}
	}
	return domain.NewStorageError(op, err)
}

// classify leaves already-classified errors alone and translates the rest.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.ErrorCode(err) != domain.CodeInternal {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, pgx.ErrNoRows) {
		return translateError(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewStorageError(op, err)
}
