// Package memory provides an in-memory component store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/repository"
)

// Compile-time contract assertion.
var _ repository.ComponentStore = (*Store)(nil)

const defaultLockTimeout = 5 * time.Second

// Store keeps components and their history in maps. Units of work hold a per-component lock
// and stage their writes; staged writes are applied under the store mutex on commit.
type Store struct {
	mu         sync.RWMutex
	components map[string]domain.Component
	history    map[string][]domain.HistoryEntry

	locks       *keyedLocks
	lockTimeout time.Duration
}

// Option customises a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a unit of work waits for a component lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		components:  make(map[string]domain.Component),
		history:     make(map[string][]domain.HistoryEntry),
		locks:       newKeyedLocks(),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx applies fn as one unit of work.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.ComponentTx) error) error {
	tx := &transaction{
		store:   s,
		puts:    make(map[string]domain.Component),
		appends: make(map[string][]domain.HistoryEntry),
		held:    make(map[string]func()),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entries := range tx.appends {
		next := len(s.history[id]) + 1
		for _, entry := range entries {
			if entry.Version != next {
				return fmt.Errorf("%w: component %s expected history version %d, got %d", domain.ErrConflict, id, next, entry.Version)
			}
			next++
		}
	}
	for id, component := range tx.puts {
		s.components[id] = component
	}
	for id, entries := range tx.appends {
		s.history[id] = append(s.history[id], entries...)
	}
	return nil
}

// Get returns the committed row for id.
func (s *Store) Get(_ context.Context, id string) (domain.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	component, ok := s.components[id]
	if !ok {
		return domain.Component{}, fmt.Errorf("component %s: %w", id, domain.ErrNotFound)
	}
	return component, nil
}

// ListAll returns every committed row ordered by id.
func (s *Store) ListAll(_ context.Context) ([]domain.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Component, 0, len(s.components))
	for _, component := range s.components {
		out = append(out, component)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListHistory returns the committed history of one component, ascending by version.
func (s *Store) ListHistory(_ context.Context, componentID string) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHistory(s.history[componentID]), nil
}

// ListHistoryByComponentIDs returns the history of several components keyed by id.
func (s *Store) ListHistoryByComponentIDs(_ context.Context, componentIDs []string) (map[string][]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]domain.HistoryEntry, len(componentIDs))
	for _, id := range componentIDs {
		if entries, ok := s.history[id]; ok {
			out[id] = cloneHistory(entries)
		}
	}
	return out, nil
}

// GetHistoryByVersion returns one committed history entry.
func (s *Store) GetHistoryByVersion(_ context.Context, componentID string, version int) (domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[componentID]
	if version < 1 || version > len(entries) {
		return domain.HistoryEntry{}, fmt.Errorf("component %s version %d: %w", componentID, version, domain.ErrNotFound)
	}
	return entries[version-1], nil
}

// ReplaceAll swaps the whole state for records.
func (s *Store) ReplaceAll(_ context.Context, records []repository.ComponentRecord) error {
	components := make(map[string]domain.Component, len(records))
	history := make(map[string][]domain.HistoryEntry, len(records))
	for _, record := range records {
		components[record.Component.ID] = record.Component
		history[record.Component.ID] = cloneHistory(record.History)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = components
	s.history = history
	return nil
}

func cloneHistory(entries []domain.HistoryEntry) []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

type transaction struct {
	store   *Store
	puts    map[string]domain.Component
	appends map[string][]domain.HistoryEntry
	held    map[string]func()
}

func (tx *transaction) lock(ctx context.Context, id string) error {
	if _, ok := tx.held[id]; ok {
		return nil
	}
	release, err := tx.store.locks.acquire(ctx, id, tx.store.lockTimeout)
	if err != nil {
		return err
	}
	tx.held[id] = release
	return nil
}

func (tx *transaction) release() {
	for _, release := range tx.held {
		release()
	}
}

func (tx *transaction) GetForUpdate(ctx context.Context, id string) (domain.Component, error) {
	if err := tx.lock(ctx, id); err != nil {
		return domain.Component{}, err
	}
	if staged, ok := tx.puts[id]; ok {
		return staged, nil
	}
	return tx.store.Get(ctx, id)
}

func (tx *transaction) Put(ctx context.Context, component domain.Component) error {
	if err := tx.lock(ctx, component.ID); err != nil {
		return err
	}
	tx.puts[component.ID] = component
	return nil
}

func (tx *transaction) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	if err := tx.lock(ctx, entry.ComponentID); err != nil {
		return err
	}
	tx.appends[entry.ComponentID] = append(tx.appends[entry.ComponentID], entry)
	return nil
}

func (tx *transaction) MaxVersion(ctx context.Context, componentID string) (int, error) {
	if err := tx.lock(ctx, componentID); err != nil {
		return 0, err
	}
	tx.store.mu.RLock()
	committed := len(tx.store.history[componentID])
	tx.store.mu.RUnlock()
	return committed + len(tx.appends[componentID]), nil
}
