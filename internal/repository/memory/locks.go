package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/comptrack/internal/domain"
)

// keyedLocks hands out one exclusive slot per key. Slots are dropped once nobody holds or waits on them.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]*lockSlot)}
}

// acquire blocks until key is free, timeout elapses or ctx ends. The returned func releases the slot.
func (k *keyedLocks) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.ch
				k.drop(key, slot)
			})
		}, nil
	case <-expired:
		k.drop(key, slot)
		return nil, fmt.Errorf("%w: component %s is locked (waited %s)", domain.ErrConflict, key, timeout)
	case <-ctx.Done():
		k.drop(key, slot)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: component %s: %v", domain.ErrConflict, key, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) drop(key string, slot *lockSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot.refs--
	if slot.refs == 0 && k.slots[key] == slot {
		delete(k.slots, key)
	}
}

// size reports how many keys are currently tracked.
func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
