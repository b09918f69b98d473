package repository

import (
	"context"

	"github.com/rpattn/comptrack/internal/domain"
)

// ComponentStore is the storage boundary owning the entity store and the history ledger.
// Reads outside RunInTx observe committed state only.
type ComponentStore interface {
	// RunInTx executes fn as one atomic unit of work. Writes staged through tx become visible
	// only if fn returns nil and the commit succeeds; otherwise nothing is persisted.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx ComponentTx) error) error

	Get(ctx context.Context, id string) (domain.Component, error)
	ListAll(ctx context.Context) ([]domain.Component, error)

	// ListHistory returns the entries of one component ascending by version.
	ListHistory(ctx context.Context, componentID string) ([]domain.HistoryEntry, error)
	ListHistoryByComponentIDs(ctx context.Context, componentIDs []string) (map[string][]domain.HistoryEntry, error)
	GetHistoryByVersion(ctx context.Context, componentID string, version int) (domain.HistoryEntry, error)

	// ReplaceAll atomically discards every component and history entry and stores records instead.
	ReplaceAll(ctx context.Context, records []ComponentRecord) error
}

// ComponentTx is the write side of one unit of work.
type ComponentTx interface {
	// GetForUpdate loads a component and holds its per-entity lock until the unit ends.
	// Waiting longer than the store's lock timeout fails with domain.ErrConflict.
	GetForUpdate(ctx context.Context, id string) (domain.Component, error)
	// Put upserts the whole row.
	Put(ctx context.Context, component domain.Component) error
	// AppendHistory adds an entry; existing entries are never modified.
	AppendHistory(ctx context.Context, entry domain.HistoryEntry) error
	// MaxVersion returns the highest version recorded for the component, or 0.
	MaxVersion(ctx context.Context, componentID string) (int, error)
}

// ComponentRecord is a component together with its full ordered history.
type ComponentRecord struct {
	Component domain.Component
	History   []domain.HistoryEntry
}
