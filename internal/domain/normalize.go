package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldRules carries the configuration the normalisers depend on.
type FieldRules struct {
	// Types is the configured set of component type labels.
	Types []string
	// Location is the business time zone used to reduce timestamps to calendar days.
	Location *time.Location
}

func (r FieldRules) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// AllowsType reports whether t is a configured component type.
func (r FieldRules) AllowsType(t string) bool {
	for _, allowed := range r.Types {
		if t == allowed {
			return true
		}
	}
	return false
}

// IsMutableField reports whether name is on the client-settable whitelist.
func IsMutableField(name string) bool {
	for _, field := range MutableFields {
		if string(field) == name {
			return true
		}
	}
	return false
}

// NormalizeField reduces a raw proposed value to its canonical text form and validates it.
// The same canonical form is produced by CanonicalValue for stored values, so the two can be
// compared with ==.
func NormalizeField(field Field, raw any, rules FieldRules) (string, error) {
	switch field {
	case FieldDateReceived:
		return normalizeDate(raw, rules.location())
	case FieldSerialNumber:
		text, err := normalizeText(field, raw)
		if err != nil {
			return "", err
		}
		return strings.ToUpper(text), nil
	case FieldType:
		text, err := normalizeText(field, raw)
		if err != nil {
			return "", err
		}
		if !rules.AllowsType(text) {
			return "", NewValidationError(field, text, fmt.Sprintf("must be one of %s", strings.Join(rules.Types, ", ")))
		}
		return text, nil
	case FieldStatus:
		text, err := normalizeText(field, raw)
		if err != nil {
			return "", err
		}
		if !Status(text).Valid() {
			return "", NewValidationError(field, text, fmt.Sprintf("must be one of %s", joinStatuses()))
		}
		return text, nil
	case FieldArrivedFrom, FieldPrimaryFault, FieldSecondaryFault:
		return normalizeText(field, raw)
	}
	return "", NewValidationError(field, "", "not a mutable field")
}

// CanonicalValue returns the canonical text of a stored field, without set-membership checks.
func CanonicalValue(c Component, field Field) string {
	value := c.FieldValue(field)
	if field == FieldSerialNumber {
		return strings.ToUpper(value)
	}
	return value
}

func normalizeText(field Field, raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case Status:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", NewValidationError(field, fmt.Sprintf("%v", raw), fmt.Sprintf("unsupported value type %T", raw))
}

func normalizeDate(raw any, loc *time.Location) (string, error) {
	switch v := raw.(type) {
	case Date:
		if v.IsZero() {
			return "", NewValidationError(FieldDateReceived, "", "cannot be empty")
		}
		return v.String(), nil
	case time.Time:
		if v.IsZero() {
			return "", NewValidationError(FieldDateReceived, "", "cannot be empty")
		}
		return DateOf(v, loc).String(), nil
	case *time.Time:
		if v == nil {
			return "", NewValidationError(FieldDateReceived, "", "cannot be empty")
		}
		return normalizeDate(*v, loc)
	case string:
		if strings.TrimSpace(v) == "" {
			return "", NewValidationError(FieldDateReceived, "", "cannot be empty")
		}
		d, err := ParseDate(v, loc)
		if err != nil {
			return "", NewValidationError(FieldDateReceived, v, err.Error())
		}
		return d.String(), nil
	case nil:
		return "", NewValidationError(FieldDateReceived, "", "cannot be empty")
	}
	return "", NewValidationError(FieldDateReceived, fmt.Sprintf("%v", raw), fmt.Sprintf("unsupported value type %T", raw))
}

func joinStatuses() string {
	names := make([]string, len(Statuses))
	for i, s := range Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
