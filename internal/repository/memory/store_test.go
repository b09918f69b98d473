package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/repository"
	"github.com/rpattn/comptrack/internal/repository/repositorytest"
)

func TestStoreContract(t *testing.T) {
	repositorytest.Run(t, func(t *testing.T, lockTimeout time.Duration) repository.ComponentStore {
		return NewStore(WithLockTimeout(lockTimeout))
	})
}

func TestCommitRejectsVersionGap(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	c := repositorytest.NewComponent("GAP-1")

	err := store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		if err := tx.Put(ctx, c); err != nil {
			return err
		}
		entry := repositorytest.CreatedEntry(c)
		entry.Version = 2
		return tx.AppendHistory(ctx, entry)
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = store.Get(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "a rejected commit must not leave the row behind")
}

func TestTransactionSeesOwnStagedWrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	c := repositorytest.NewComponent("STG-1")

	err := store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		if err := tx.Put(ctx, c); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, repositorytest.CreatedEntry(c)); err != nil {
			return err
		}
		staged, err := tx.GetForUpdate(ctx, c.ID)
		if err != nil {
			return err
		}
		assert.True(t, staged.Equal(c))
		maxVersion, err := tx.MaxVersion(ctx, c.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, maxVersion)

		_, err = store.Get(ctx, c.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound, "uncommitted writes are invisible outside the unit")
		return nil
	})
	require.NoError(t, err)
}

func TestLocksAreReleased(t *testing.T) {
	store := NewStore(WithLockTimeout(50 * time.Millisecond))
	ctx := context.Background()
	c := repositorytest.NewComponent("REL-1")

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		return tx.Put(ctx, c)
	}))
	assert.Equal(t, 0, store.locks.size())

	require.Error(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		if _, err := tx.GetForUpdate(ctx, c.ID); err != nil {
			return err
		}
		return assert.AnError
	}))
	assert.Equal(t, 0, store.locks.size())
}

func TestAcquireHonoursContextCancellation(t *testing.T) {
	locks := newKeyedLocks()
	release, err := locks.acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locks.acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	deadline, cancelDeadline := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelDeadline()
	_, err = locks.acquire(deadline, "k", time.Second)
	assert.ErrorIs(t, err, domain.ErrConflict)
}
