package record

import (
	"encoding/json"
	"math"
)

const (
	// AttributeType is the reserved attribute that names a record's schema.
	AttributeType string = "type"
	// AttributeID is the reserved attribute that holds a record's identity.
	AttributeID string = "id"
)

// RawRecord is the wire representation of one remote record: a mapping from
// field name to value, where nested mappings that carry their own type and id
// represent links to other records.
type RawRecord map[string]any

// Type returns the record's type tag, or an empty string if it has none.
func (r RawRecord) Type() string {
	t, _ := r[AttributeType].(string)
	return t
}

// ID returns the record's identity. The second return value reports whether
// an identity was present and numeric.
func (r RawRecord) ID() (int64, bool) {
	v, ok := r[AttributeID]
	if !ok {
		return 0, false
	}
	return AsID(v)
}

// IsRef reports whether the record carries both a type and an identity, i.e.
// whether it can stand in for a remote record on its own.
func (r RawRecord) IsRef() bool {
	if r.Type() == "" {
		return false
	}
	_, ok := r.ID()
	return ok
}

// NewRef returns the minimal representation of a record: type and id only.
func NewRef(entityType string, id int64) RawRecord {
	return RawRecord{AttributeType: entityType, AttributeID: id}
}

// AsID coerces the numeric types that JSON decoding and callers hand us into
// an int64 identity. Non-integral and non-numeric values are rejected.
func AsID(v any) (int64, bool) {
	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case int32:
		return int64(id), true
	case float64:
		if id != math.Trunc(id) {
			return 0, false
		}
		return int64(id), true
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Filter is one predicate of a query: field, operator and operand. The
// operator vocabulary is owned by the remote service; this package only
// transports it.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

func Is(field string, value any) Filter {
	return Filter{Field: field, Op: "is", Value: value}
}

func IsNot(field string, value any) Filter {
	return Filter{Field: field, Op: "is_not", Value: value}
}

func In(field string, values ...any) Filter {
	return Filter{Field: field, Op: "in", Value: values}
}

func Contains(field string, value any) Filter {
	return Filter{Field: field, Op: "contains", Value: value}
}

func StartsWith(field, prefix string) Filter {
	return Filter{Field: field, Op: "starts_with", Value: prefix}
}

func GreaterThan(field string, value any) Filter {
	return Filter{Field: field, Op: "greater_than", Value: value}
}

func LessThan(field string, value any) Filter {
	return Filter{Field: field, Op: "less_than", Value: value}
}

// SortKey orders query results by one field.
type SortKey struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// Query describes one read request against the remote record service.
type Query struct {
	Type    string    `json:"type"`
	Filters []Filter  `json:"filters,omitempty"`
	Fields  []string  `json:"fields,omitempty"`
	Order   []SortKey `json:"order,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// Op enumerates the mutation operations of the remote record service.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// BatchRequest is one element of a batch mutation.
type BatchRequest struct {
	Op   Op        `json:"op"`
	Type string    `json:"type"`
	ID   int64     `json:"id,omitempty"`
	Data RawRecord `json:"data,omitempty"`
}
