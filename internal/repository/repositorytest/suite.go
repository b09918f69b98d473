// Package repositorytest holds the behavioural contract every repository.ComponentStore must meet.
package repositorytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/repository"
)

// Factory builds a fresh, empty store whose lock timeout is lockTimeout.
type Factory func(t *testing.T, lockTimeout time.Duration) repository.ComponentStore

// Run executes the store contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndRead", func(t *testing.T) { testCreateAndRead(t, newStore) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore) })
	t.Run("AppendUpdatesVersion", func(t *testing.T) { testAppendUpdatesVersion(t, newStore) })
	t.Run("HistoryByIDs", func(t *testing.T) { testHistoryByIDs(t, newStore) })
	t.Run("LockTimeoutIsConflict", func(t *testing.T) { testLockTimeoutIsConflict(t, newStore) })
	t.Run("UnrelatedComponentsDoNotBlock", func(t *testing.T) { testUnrelatedComponentsDoNotBlock(t, newStore) })
	t.Run("ReplaceAll", func(t *testing.T) { testReplaceAll(t, newStore) })
}

// Timestamps are truncated to microseconds, the precision every backend keeps.
func stamp(offset time.Duration) time.Time {
	return time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC).Add(offset).Truncate(time.Microsecond)
}

// NewComponent builds a valid component for tests.
func NewComponent(serial string) domain.Component {
	return domain.Component{
		ID:           uuid.NewString(),
		SerialNumber: serial,
		Type:         "Thermal",
		DateReceived: domain.NewDate(2024, time.March, 5),
		ArrivedFrom:  "Depot",
		Status:       domain.StatusInProcess,
		UpdateDate:   stamp(0),
	}
}

// CreatedEntry is the version-1 entry for c.
func CreatedEntry(c domain.Component) domain.HistoryEntry {
	return domain.HistoryEntry{
		ComponentID: c.ID,
		Version:     1,
		Timestamp:   c.UpdateDate,
		UpdatedBy:   "system",
		Changes:     domain.CreatedRecord(),
		FullState:   c,
	}
}

func insert(t *testing.T, store repository.ComponentStore, c domain.Component) {
	t.Helper()
	err := store.RunInTx(context.Background(), func(ctx context.Context, tx repository.ComponentTx) error {
		if err := tx.Put(ctx, c); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, CreatedEntry(c))
	})
	require.NoError(t, err)
}

func update(ctx context.Context, store repository.ComponentStore, id string, status domain.Status, at time.Time) error {
	return store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		record, err := domain.UpdatedRecord(domain.ChangeSet{{Field: domain.FieldStatus, Old: string(current.Status), New: string(status)}})
		if err != nil {
			return err
		}
		next := current
		next.Status = status
		next.UpdateDate = at
		if err := tx.Put(ctx, next); err != nil {
			return err
		}
		maxVersion, err := tx.MaxVersion(ctx, id)
		if err != nil {
			return err
		}
		return tx.AppendHistory(ctx, domain.HistoryEntry{
			ComponentID: id,
			Version:     maxVersion + 1,
			Timestamp:   at,
			UpdatedBy:   "system",
			Changes:     record,
			FullState:   next,
		})
	})
}

func testCreateAndRead(t *testing.T, newStore Factory) {
	store := newStore(t, time.Second)
	ctx := context.Background()
	c := NewComponent("AB-12")
	insert(t, store, c)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Equal(c), "got %+v want %+v", got, c)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Equal(c))

	history, err := store.ListHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Version)
	assert.True(t, history[0].Changes.IsCreated())
	assert.True(t, history[0].FullState.Equal(c))
	assert.Equal(t, "system", history[0].UpdatedBy)

	entry, err := store.GetHistoryByVersion(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.True(t, entry.Timestamp.Equal(c.UpdateDate))
}

func testGetMissing(t *testing.T, newStore Factory) {
	store := newStore(t, time.Second)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.GetHistoryByVersion(ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		_, err := tx.GetForUpdate(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	history, err := store.ListHistory(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func testRollbackOnError(t *testing.T, newStore Factory) {
	store := newStore(t, time.Second)
	ctx := context.Background()
	c := NewComponent("RB-1")
	insert(t, store, c)

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		current, err := tx.GetForUpdate(ctx, c.ID)
		if err != nil {
			return err
		}
		current.Status = domain.StatusFaulty
		if err := tx.Put(ctx, current); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProcess, got.Status)

	history, err := store.ListHistory(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func testAppendUpdatesVersion(t *testing.T, newStore Factory) {
	store := newStore(t, time.Second)
	ctx := context.Background()
	c := NewComponent("UP-1")
	insert(t, store, c)

	require.NoError(t, update(ctx, store, c.ID, domain.StatusUsable, stamp(time.Hour)))
	require.NoError(t, update(ctx, store, c.ID, domain.StatusClosed, stamp(2*time.Hour)))

	history, err := store.ListHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, entry := range history {
		assert.Equal(t, i+1, entry.Version)
	}

	current, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, domain.ValidateTimeline(current, history))

	var maxVersion int
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		var err error
		maxVersion, err = tx.MaxVersion(ctx, c.ID)
		return err
	}))
	assert.Equal(t, 3, maxVersion)

	second, err := store.GetHistoryByVersion(ctx, c.ID, 2)
	require.NoError(t, err)
	change, ok := second.Changes.Change(domain.FieldStatus)
	require.True(t, ok)
	assert.Equal(t, "in-process", change.Old)
	assert.Equal(t, "usable", change.New)

	_, err = store.GetHistoryByVersion(ctx, c.ID, 4)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testHistoryByIDs(t *testing.T, newStore Factory) {
	store := newStore(t, time.Second)
	ctx := context.Background()
	a := NewComponent("A-1")
	b := NewComponent("B-1")
	insert(t, store, a)
	insert(t, store, b)
	require.NoError(t, update(ctx, store, b.ID, domain.StatusFaulty, stamp(time.Minute)))

	byID, err := store.ListHistoryByComponentIDs(ctx, []string{a.ID, b.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, byID[a.ID], 1)
	require.Len(t, byID[b.ID], 2)
	assert.Equal(t, 2, byID[b.ID][1].Version)
	assert.Empty(t, byID["missing"])
}

func testLockTimeoutIsConflict(t *testing.T, newStore Factory) {
	store := newStore(t, 100*time.Millisecond)
	ctx := context.Background()
	c := NewComponent("LK-1")
	insert(t, store, c)

	locked := make(chan struct{})
	finish := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
			if _, err := tx.GetForUpdate(ctx, c.ID); err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-finish
			return nil
		})
	}()
	<-locked

	err := update(ctx, store, c.ID, domain.StatusUsable, stamp(time.Hour))
	close(finish)
	require.NoError(t, <-holderDone)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)

	history, err := store.ListHistory(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func testUnrelatedComponentsDoNotBlock(t *testing.T, newStore Factory) {
	store := newStore(t, 2*time.Second)
	ctx := context.Background()
	components := make([]domain.Component, 4)
	for i := range components {
		components[i] = NewComponent(fmt.Sprintf("PAR-%d", i))
		insert(t, store, components[i])
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(components))
	for i, c := range components {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs <- update(ctx, store, id, domain.StatusUsable, stamp(time.Duration(i+1)*time.Minute))
		}(i, c.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, c := range components {
		history, err := store.ListHistory(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	}
}

func testReplaceAll(t *testing.T, newStore Factory) {
	store := newStore(t, time.Second)
	ctx := context.Background()
	old := NewComponent("OLD-1")
	insert(t, store, old)

	fresh := NewComponent("NEW-1")
	fresh.Status = domain.StatusReturned
	require.NoError(t, store.ReplaceAll(ctx, []repository.ComponentRecord{
		{Component: fresh, History: []domain.HistoryEntry{CreatedEntry(fresh)}},
	}))

	_, err := store.Get(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	oldHistory, err := store.ListHistory(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, oldHistory)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Equal(fresh))

	history, err := store.ListHistory(ctx, fresh.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusReturned, history[0].FullState.Status)

	require.NoError(t, store.ReplaceAll(ctx, nil))
	all, err = store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
