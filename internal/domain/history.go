package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ChangeKind tags the shape of a ChangeRecord.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// FieldChange is one field-level difference, in canonical text form.
type FieldChange struct {
	Field Field  `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// ChangeRecord is either a creation marker or a non-empty list of field changes, never both.
type ChangeRecord struct {
	kind   ChangeKind
	fields []FieldChange
}

// CreatedRecord returns the marker stored on version 1 of every component.
func CreatedRecord() ChangeRecord {
	return ChangeRecord{kind: ChangeCreated}
}

// UpdatedRecord wraps a non-empty change-set.
func UpdatedRecord(changes ChangeSet) (ChangeRecord, error) {
	if changes.IsEmpty() {
		return ChangeRecord{}, errors.New("update record requires at least one field change")
	}
	fields := make([]FieldChange, len(changes))
	copy(fields, changes)
	return ChangeRecord{kind: ChangeUpdated, fields: fields}, nil
}

// Kind returns the variant tag.
func (r ChangeRecord) Kind() ChangeKind { return r.kind }

// IsCreated reports whether r is the creation marker.
func (r ChangeRecord) IsCreated() bool { return r.kind == ChangeCreated }

// Fields returns a copy of the field changes; empty for the creation marker.
func (r ChangeRecord) Fields() []FieldChange {
	if len(r.fields) == 0 {
		return nil
	}
	out := make([]FieldChange, len(r.fields))
	copy(out, r.fields)
	return out
}

// Change looks up the change recorded for field.
func (r ChangeRecord) Change(field Field) (FieldChange, bool) {
	for _, change := range r.fields {
		if change.Field == field {
			return change, true
		}
	}
	return FieldChange{}, false
}

type changeRecordJSON struct {
	Kind   ChangeKind    `json:"kind"`
	Fields []FieldChange `json:"fields,omitempty"`
}

func (r ChangeRecord) MarshalJSON() ([]byte, error) {
	if r.kind == "" {
		return nil, errors.New("change record has no kind")
	}
	return json.Marshal(changeRecordJSON{Kind: r.kind, Fields: r.fields})
}

func (r *ChangeRecord) UnmarshalJSON(data []byte) error {
	var raw changeRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case ChangeCreated:
		if len(raw.Fields) > 0 {
			return errors.New("created change record cannot carry field changes")
		}
		*r = CreatedRecord()
	case ChangeUpdated:
		record, err := UpdatedRecord(ChangeSet(raw.Fields))
		if err != nil {
			return err
		}
		*r = record
	default:
		return fmt.Errorf("unknown change kind %q", raw.Kind)
	}
	return nil
}

// HistoryEntry is one immutable, versioned record of a component mutation.
type HistoryEntry struct {
	ComponentID string       `json:"componentId"`
	Version     int          `json:"version"`
	Timestamp   time.Time    `json:"timestamp"`
	UpdatedBy   string       `json:"updatedBy"`
	Changes     ChangeRecord `json:"changes"`
	FullState   Component    `json:"fullState"`
}

// ValidateTimeline checks that entries form the contiguous sequence 1..N for componentID,
// and that the last full state agrees with current.
func ValidateTimeline(current Component, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("component %s has no history", current.ID)
	}
	for i, entry := range entries {
		if entry.ComponentID != current.ID {
			return fmt.Errorf("history entry %d belongs to %s, not %s", entry.Version, entry.ComponentID, current.ID)
		}
		if entry.Version != i+1 {
			return fmt.Errorf("component %s history expected version %d, found %d", current.ID, i+1, entry.Version)
		}
		if (i == 0) != entry.Changes.IsCreated() {
			return fmt.Errorf("component %s version %d has change kind %q", current.ID, entry.Version, entry.Changes.Kind())
		}
	}
	last := entries[len(entries)-1]
	if !last.FullState.Equal(current) {
		return fmt.Errorf("component %s latest history state differs from the stored row", current.ID)
	}
	if !last.Timestamp.Equal(current.UpdateDate) {
		return fmt.Errorf("component %s updateDate differs from its latest history timestamp", current.ID)
	}
	return nil
}
