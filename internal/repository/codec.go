package repository

import (
	"encoding/json"
	"fmt"

	"github.com/rpattn/comptrack/internal/domain"
)

// EncodeHistoryPayload renders the JSON columns of a history row.
func EncodeHistoryPayload(entry domain.HistoryEntry) (changes []byte, fullState []byte, err error) {
	changes, err = json.Marshal(entry.Changes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal changes: %w", err)
	}
	fullState, err = json.Marshal(entry.FullState)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal full state: %w", err)
	}
	return changes, fullState, nil
}

// DecodeHistoryPayload parses the JSON columns of a history row into entry.
func DecodeHistoryPayload(changes, fullState []byte, entry *domain.HistoryEntry) error {
	if err := json.Unmarshal(changes, &entry.Changes); err != nil {
		return fmt.Errorf("failed to unmarshal changes of %s v%d: %w", entry.ComponentID, entry.Version, err)
	}
	if err := json.Unmarshal(fullState, &entry.FullState); err != nil {
		return fmt.Errorf("failed to unmarshal full state of %s v%d: %w", entry.ComponentID, entry.Version, err)
	}
	return nil
}
