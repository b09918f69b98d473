package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a component.
type Status string

const (
	StatusUsable    Status = "usable"
	StatusFaulty    Status = "faulty"
	StatusInProcess Status = "in-process"
	StatusReturned  Status = "returned"
	StatusClosed    Status = "closed"
)

// InitialStatus is assigned to every newly created component.
const InitialStatus = StatusInProcess

// Statuses lists every status in canonical order.
var Statuses = []Status{StatusUsable, StatusFaulty, StatusInProcess, StatusReturned, StatusClosed}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Active reports whether a component in this status still counts as active work.
func (s Status) Active() bool {
	return s != StatusClosed && s != StatusReturned
}

// Field names a mutable component field as it appears on the wire.
type Field string

const (
	FieldSerialNumber   Field = "serialNumber"
	FieldType           Field = "type"
	FieldDateReceived   Field = "dateReceived"
	FieldArrivedFrom    Field = "arrivedFrom"
	FieldPrimaryFault   Field = "primaryFault"
	FieldSecondaryFault Field = "secondaryFault"
	FieldStatus         Field = "status"
)

// MutableFields is the whitelist of fields a client may set, in change-set order.
var MutableFields = []Field{
	FieldSerialNumber,
	FieldType,
	FieldDateReceived,
	FieldArrivedFrom,
	FieldPrimaryFault,
	FieldSecondaryFault,
	FieldStatus,
}

// Component is the current-state row of a tracked inventory item.
type Component struct {
	ID             string    `json:"id"`
	SerialNumber   string    `json:"serialNumber"`
	Type           string    `json:"type"`
	DateReceived   Date      `json:"dateReceived"`
	ArrivedFrom    string    `json:"arrivedFrom"`
	PrimaryFault   string    `json:"primaryFault"`
	SecondaryFault string    `json:"secondaryFault"`
	Status         Status    `json:"status"`
	UpdateDate     time.Time `json:"updateDate"`
}

// FieldValue returns the canonical text form of a mutable field.
func (c Component) FieldValue(field Field) string {
	switch field {
	case FieldSerialNumber:
		return c.SerialNumber
	case FieldType:
		return c.Type
	case FieldDateReceived:
		if c.DateReceived.IsZero() {
			return ""
		}
		return c.DateReceived.String()
	case FieldArrivedFrom:
		return c.ArrivedFrom
	case FieldPrimaryFault:
		return c.PrimaryFault
	case FieldSecondaryFault:
		return c.SecondaryFault
	case FieldStatus:
		return string(c.Status)
	}
	return ""
}

// withField returns a copy of c with field set from its canonical text form.
func (c Component) withField(field Field, value string) Component {
	switch field {
	case FieldSerialNumber:
		c.SerialNumber = value
	case FieldType:
		c.Type = value
	case FieldDateReceived:
		// canonical values always parse; a failure leaves the zero date
		d, _ := ParseDate(value, time.UTC)
		c.DateReceived = d
	case FieldArrivedFrom:
		c.ArrivedFrom = value
	case FieldPrimaryFault:
		c.PrimaryFault = value
	case FieldSecondaryFault:
		c.SecondaryFault = value
	case FieldStatus:
		c.Status = Status(value)
	}
	return c
}

// Equal compares two components field for field. Timestamps are compared as instants.
func (c Component) Equal(other Component) bool {
	return c.ID == other.ID &&
		c.SerialNumber == other.SerialNumber &&
		c.Type == other.Type &&
		c.DateReceived == other.DateReceived &&
		c.ArrivedFrom == other.ArrivedFrom &&
		c.PrimaryFault == other.PrimaryFault &&
		c.SecondaryFault == other.SecondaryFault &&
		c.Status == other.Status &&
		c.UpdateDate.Equal(other.UpdateDate)
}

// ComponentFilter narrows a component listing.
type ComponentFilter struct {
	// Search matches case-insensitively against serial number, type and status.
	Search string
	Status Status
	Type   string
}

// IsEmpty reports whether the filter matches everything.
func (f ComponentFilter) IsEmpty() bool {
	return strings.TrimSpace(f.Search) == "" && f.Status == "" && f.Type == ""
}

// Matches reports whether c satisfies the filter.
func (f ComponentFilter) Matches(c Component) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.SerialNumber), search) ||
		strings.Contains(strings.ToLower(c.Type), search) ||
		strings.Contains(strings.ToLower(string(c.Status)), search)
}
