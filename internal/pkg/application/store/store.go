package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/diwise/entity-session/pkg/record"
)

// Store persists raw records and answers filtered queries over them. The
// operator vocabulary of record.Filter is implemented here.
type Store interface {
	Query(ctx context.Context, q record.Query) ([]record.RawRecord, int64, error)
	Create(ctx context.Context, entityType string, data record.RawRecord) (record.RawRecord, error)
	Update(ctx context.Context, entityType string, id int64, data record.RawRecord) (record.RawRecord, error)
	Delete(ctx context.Context, entityType string, id int64) error
}

var deepFieldPattern = regexp.MustCompile(`^(\w+)\.([A-Z]\w*)\.(.+)$`)

// lookupFunc resolves a link reference to the full record it points at.
type lookupFunc func(entityType string, id int64) (record.RawRecord, bool)

// resolveField returns the value of a field on a record. Dotted paths
// traverse link references through the lookup.
func resolveField(r record.RawRecord, field string, lookup lookupFunc) (any, bool) {
	m := deepFieldPattern.FindStringSubmatch(field)
	if m == nil {
		v, ok := r[field]
		return v, ok
	}

	local, linkType, rest := m[1], m[2], m[3]

	link, ok := asRef(r[local])
	if !ok || link.Type() != linkType {
		return nil, false
	}

	id, _ := link.ID()
	target, ok := lookup(link.Type(), id)
	if !ok {
		return nil, false
	}

	return resolveField(target, rest, lookup)
}

func asRef(v any) (record.RawRecord, bool) {
	switch ref := v.(type) {
	case record.RawRecord:
		return ref, ref.IsRef()
	case map[string]any:
		r := record.RawRecord(ref)
		return r, r.IsRef()
	default:
		return nil, false
	}
}

func matches(r record.RawRecord, filters []record.Filter, lookup lookupFunc) (bool, error) {
	for _, f := range filters {
		got, _ := resolveField(r, f.Field, lookup)

		ok, err := evalFilter(got, f)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func evalFilter(got any, f record.Filter) (bool, error) {
	switch f.Op {
	case "is":
		return valueEquals(got, f.Value), nil
	case "is_not":
		return !valueEquals(got, f.Value), nil
	case "in":
		values, ok := f.Value.([]any)
		if !ok {
			return false, fmt.Errorf("operand of %q must be a list", f.Op)
		}
		for _, v := range values {
			if valueEquals(got, v) {
				return true, nil
			}
		}
		return false, nil
	case "contains":
		if list, ok := got.([]any); ok {
			for _, v := range list {
				if valueEquals(v, f.Value) {
					return true, nil
				}
			}
			return false, nil
		}
		s, sok := got.(string)
		sub, vok := f.Value.(string)
		return sok && vok && strings.Contains(s, sub), nil
	case "starts_with":
		s, sok := got.(string)
		prefix, vok := f.Value.(string)
		return sok && vok && strings.HasPrefix(s, prefix), nil
	case "greater_than":
		cmp, ok := compareValues(got, f.Value)
		return ok && cmp > 0, nil
	case "less_than":
		cmp, ok := compareValues(got, f.Value)
		return ok && cmp < 0, nil
	default:
		return false, fmt.Errorf("unknown filter operator %q", f.Op)
	}
}

func valueEquals(got, want any) bool {
	if gotRef, ok := asRef(got); ok {
		wantRef, ok := asRef(want)
		if !ok {
			return false
		}
		gotID, _ := gotRef.ID()
		wantID, _ := wantRef.ID()
		return gotRef.Type() == wantRef.Type() && gotID == wantID
	}

	if gotNum, ok := asFloat(got); ok {
		wantNum, ok := asFloat(want)
		return ok && gotNum == wantNum
	}

	return got == want
}

func compareValues(got, want any) (int, bool) {
	if gotNum, ok := asFloat(got); ok {
		wantNum, ok := asFloat(want)
		if !ok {
			return 0, false
		}
		switch {
		case gotNum < wantNum:
			return -1, true
		case gotNum > wantNum:
			return 1, true
		default:
			return 0, true
		}
	}

	gotStr, gok := got.(string)
	wantStr, wok := want.(string)
	if gok && wok {
		return strings.Compare(gotStr, wantStr), true
	}

	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// project shapes one matched record according to the requested field list:
// identity always, plain fields as stored, and deep dotted fields flattened
// under their dotted name.
func project(r record.RawRecord, fields []string, lookup lookupFunc) record.RawRecord {
	id, _ := r.ID()
	out := record.NewRef(r.Type(), id)

	if len(fields) == 0 {
		for k, v := range r {
			out[k] = v
		}
		return out
	}

	for _, field := range fields {
		if field == record.AttributeType || field == record.AttributeID {
			continue
		}

		if v, ok := resolveField(r, field, lookup); ok {
			out[field] = v
		}
	}

	return out
}

func sortRecords(records []record.RawRecord, order []record.SortKey, lookup lookupFunc) {
	if len(order) == 0 {
		// stable output for pagination and tests
		order = []record.SortKey{{Field: record.AttributeID}}
	}

	sort.SliceStable(records, func(i, j int) bool {
		for _, key := range order {
			a, _ := resolveField(records[i], key.Field, lookup)
			b, _ := resolveField(records[j], key.Field, lookup)

			cmp, ok := compareValues(a, b)
			if !ok || cmp == 0 {
				continue
			}

			if key.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
