// Package backup encodes, validates and stores full-state backups of the component store.
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/repository"
)

// FormatVersion is the document version written by Encode.
const FormatVersion = 1

// Document is a complete snapshot of components and their histories.
type Document struct {
	FormatVersion int       `json:"formatVersion"`
	ExportedAt    time.Time `json:"exportedAt"`
	Components    []Entry   `json:"components"`
}

// Entry is one component with its full history. History may be empty in legacy documents.
type Entry struct {
	domain.Component
	History []domain.HistoryEntry `json:"history,omitempty"`
}

// NewDocument builds a document from store records.
func NewDocument(records []repository.ComponentRecord, exportedAt time.Time) Document {
	doc := Document{
		FormatVersion: FormatVersion,
		ExportedAt:    exportedAt.UTC(),
		Components:    make([]Entry, 0, len(records)),
	}
	for _, record := range records {
		doc.Components = append(doc.Components, Entry{Component: record.Component, History: record.History})
	}
	return doc
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return nil
}

// legacyComponent is the row shape of documents written before histories were exported.
type legacyComponent struct {
	ID             string    `json:"id"`
	SerialNumber   string    `json:"serialNumber"`
	Type           string    `json:"type"`
	DateReceived   string    `json:"dateReceived"`
	ArrivedFrom    string    `json:"arrivedFrom"`
	PrimaryFault   string    `json:"primaryFault"`
	SecondaryFault string    `json:"secondaryFault"`
	Status         string    `json:"status"`
	UpdateDate     time.Time `json:"updateDate"`
}

// Decode reads a backup document. Besides the current format it accepts a bare JSON array
// of components and an object without formatVersion; their dateReceived values are reduced
// to a calendar day in loc.
func Decode(r io.Reader, loc *time.Location) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("read backup: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Document{}, invalid("document", "", "backup is empty")
	}

	if data[0] == '[' {
		return decodeLegacy(data, time.Time{}, loc)
	}

	var head struct {
		FormatVersion int             `json:"formatVersion"`
		ExportedAt    time.Time       `json:"exportedAt"`
		Components    json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Document{}, invalid("document", "", err.Error())
	}
	switch head.FormatVersion {
	case 0:
		if len(head.Components) == 0 {
			return Document{}, invalid("components", "", "missing")
		}
		return decodeLegacy(head.Components, head.ExportedAt, loc)
	case FormatVersion:
		doc := Document{FormatVersion: FormatVersion, ExportedAt: head.ExportedAt}
		if len(head.Components) > 0 {
			if err := json.Unmarshal(head.Components, &doc.Components); err != nil {
				return Document{}, invalid("components", "", err.Error())
			}
		}
		return doc, nil
	default:
		return Document{}, invalid("formatVersion", fmt.Sprint(head.FormatVersion), "unsupported")
	}
}

func decodeLegacy(data []byte, exportedAt time.Time, loc *time.Location) (Document, error) {
	var rows []legacyComponent
	if err := json.Unmarshal(data, &rows); err != nil {
		return Document{}, invalid("components", "", err.Error())
	}
	doc := Document{FormatVersion: FormatVersion, ExportedAt: exportedAt, Components: make([]Entry, 0, len(rows))}
	for _, row := range rows {
		c := domain.Component{
			ID:             row.ID,
			SerialNumber:   strings.ToUpper(row.SerialNumber),
			Type:           row.Type,
			ArrivedFrom:    row.ArrivedFrom,
			PrimaryFault:   row.PrimaryFault,
			SecondaryFault: row.SecondaryFault,
			Status:         domain.Status(row.Status),
			UpdateDate:     row.UpdateDate,
		}
		if strings.TrimSpace(row.DateReceived) != "" {
			d, err := domain.ParseDate(row.DateReceived, loc)
			if err != nil {
				return Document{}, invalid(domain.FieldDateReceived, row.DateReceived, fmt.Sprintf("component %s: %v", row.ID, err))
			}
			c.DateReceived = d
		}
		doc.Components = append(doc.Components, Entry{Component: c})
	}
	return doc, nil
}

// Records validates doc and converts it into store records. Components without history get a
// synthesized version-1 creation entry attributed to actor; a missing updateDate becomes now.
// Timestamps are truncated to microseconds.
func (d Document) Records(actor string, now time.Time) ([]repository.ComponentRecord, error) {
	seen := make(map[string]struct{}, len(d.Components))
	records := make([]repository.ComponentRecord, 0, len(d.Components))
	for _, entry := range d.Components {
		c := entry.Component
		if strings.TrimSpace(c.ID) == "" {
			return nil, invalid("id", "", "component id is required")
		}
		if _, dup := seen[c.ID]; dup {
			return nil, invalid("id", c.ID, "duplicate component id")
		}
		seen[c.ID] = struct{}{}
		if !c.Status.Valid() {
			return nil, invalid(domain.FieldStatus, string(c.Status), fmt.Sprintf("component %s has an unknown status", c.ID))
		}
		if c.DateReceived.IsZero() {
			return nil, invalid(domain.FieldDateReceived, "", fmt.Sprintf("component %s has no dateReceived", c.ID))
		}

		history := make([]domain.HistoryEntry, len(entry.History))
		copy(history, entry.History)
		if len(history) == 0 {
			if c.UpdateDate.IsZero() {
				c.UpdateDate = now
			}
			c.UpdateDate = c.UpdateDate.Truncate(time.Microsecond)
			history = []domain.HistoryEntry{{
				ComponentID: c.ID,
				Version:     1,
				Timestamp:   c.UpdateDate,
				UpdatedBy:   actor,
				Changes:     domain.CreatedRecord(),
				FullState:   c,
			}}
		} else {
			c.UpdateDate = c.UpdateDate.Truncate(time.Microsecond)
			for i := range history {
				history[i].Timestamp = history[i].Timestamp.Truncate(time.Microsecond)
				history[i].FullState.UpdateDate = history[i].FullState.UpdateDate.Truncate(time.Microsecond)
			}
		}
		if err := domain.ValidateTimeline(c, history); err != nil {
			return nil, invalid("history", c.ID, err.Error())
		}
		records = append(records, repository.ComponentRecord{Component: c, History: history})
	}
	return records, nil
}

// FileName is the conventional object name for a backup taken at t.
func FileName(t time.Time) string {
	return "components-backup-" + t.UTC().Format("20060102T150405Z") + ".json"
}

func invalid(field domain.Field, value, reason string) error {
	return domain.NewValidationError(field, value, reason)
}
