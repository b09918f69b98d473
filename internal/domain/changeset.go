package domain

import "time"

// ChangeSet is the minimal list of field differences produced by one update.
type ChangeSet []FieldChange

// IsEmpty reports whether no field changed.
func (cs ChangeSet) IsEmpty() bool { return len(cs) == 0 }

// Fields lists the changed field names in order.
func (cs ChangeSet) Fields() []Field {
	fields := make([]Field, len(cs))
	for i, change := range cs {
		fields[i] = change.Field
	}
	return fields
}

// ComputeChangeSet applies a partial update to current. Only whitelisted keys are considered,
// unknown keys are ignored, and fields whose normalised value equals the stored one are left
// out of the change-set. Any invalid value rejects the whole update and returns current unchanged.
func ComputeChangeSet(current Component, proposed map[string]any, rules FieldRules) (ChangeSet, Component, error) {
	next := current
	var changes ChangeSet
	for _, field := range MutableFields {
		raw, ok := proposed[string(field)]
		if !ok {
			continue
		}
		value, err := NormalizeField(field, raw, rules)
		if err != nil {
			return nil, current, err
		}
		old := CanonicalValue(current, field)
		if old == value {
			continue
		}
		next = next.withField(field, value)
		changes = append(changes, FieldChange{Field: field, Old: old, New: value})
	}
	return changes, next, nil
}

// NewComponent builds the initial state of a component from client fields. Absent text fields
// default to empty, dateReceived defaults to today in the rules' location, and status is always
// InitialStatus whatever the client sent.
func NewComponent(id string, fields map[string]any, rules FieldRules, now time.Time) (Component, error) {
	component := Component{
		ID:           id,
		DateReceived: DateOf(now, rules.location()),
		Status:       InitialStatus,
		UpdateDate:   now,
	}
	for _, field := range MutableFields {
		if field == FieldStatus {
			continue
		}
		raw, ok := fields[string(field)]
		if !ok {
			continue
		}
		value, err := NormalizeField(field, raw, rules)
		if err != nil {
			return Component{}, err
		}
		component = component.withField(field, value)
	}
	return component, nil
}
