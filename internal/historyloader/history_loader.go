package historyloader

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/comptrack/internal/domain"
)

// HistorySource fetches the histories of several components at once.
type HistorySource interface {
	HistoryByIDs(ctx context.Context, ids []string) (map[string][]domain.HistoryEntry, error)
}

// HistoryLoader batches per-component history reads issued during one request.
type HistoryLoader struct {
	Loader *dataloader.Loader
}

func NewHistoryLoader(source HistorySource) *HistoryLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := keys.Keys()

		// Fetch histories in batch
		byID, err := source.HistoryByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Build results in the same order as keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			entries := byID[id]
			if entries == nil {
				entries = []domain.HistoryEntry{}
			}
			results[i] = &dataloader.Result{Data: entries}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(2*time.Millisecond))

	return &HistoryLoader{Loader: loader}
}

// Load returns the history of one component, ascending by version.
func (l *HistoryLoader) Load(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	data, err := l.Loader.Load(ctx, dataloader.StringKey(id))()
	if err != nil {
		return nil, err
	}
	entries, ok := data.([]domain.HistoryEntry)
	if !ok {
		return nil, fmt.Errorf("history loader returned %T for %s", data, id)
	}
	return entries, nil
}

// LoadMany returns the histories of ids keyed by id.
func (l *HistoryLoader) LoadMany(ctx context.Context, ids []string) (map[string][]domain.HistoryEntry, error) {
	out := make(map[string][]domain.HistoryEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	data, errs := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(ids))()
	for i, id := range ids {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		entries, ok := data[i].([]domain.HistoryEntry)
		if !ok {
			return nil, fmt.Errorf("history loader returned %T for %s", data[i], id)
		}
		out[id] = entries
	}
	return out, nil
}
