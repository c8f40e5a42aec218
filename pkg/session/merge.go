package session

import (
	"fmt"
	"reflect"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/record/errors"
)

// Merge folds raw records into the session, returning the entity each
// record resolved to. Each record is merged as its own atomic unit; when one
// fails validation the error is returned together with the entities that
// were merged before it, and those merges stand.
func (s *Session) Merge(records ...record.RawRecord) ([]*Entity, error) {
	out := make([]*Entity, 0, len(records))

	for _, r := range records {
		e, err := s.MergeOne(r)
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}

	return out, nil
}

// MergeOne folds a single raw record and everything reachable from it into
// the session under one hold of the guard.
func (s *Session) MergeOne(r record.RawRecord) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.NewDetachedEntityError("session is closed")
	}

	return s.mergeRecordLocked(r, map[uintptr]*Entity{})
}

// memo maps the address of each raw map to the entity it resolved to, so
// that cyclic input terminates and aliased maps merge once.
func (s *Session) mergeRecordLocked(raw record.RawRecord, memo map[uintptr]*Entity) (*Entity, error) {
	ptr := reflect.ValueOf(raw).Pointer()
	if e, ok := memo[ptr]; ok {
		return e, nil
	}

	entityType := raw.Type()
	id, hasID := raw.ID()

	if entityType == "" {
		if hasID {
			return nil, errors.NewInvalidRecordError(
				fmt.Sprintf("record with id %d has no type", id),
			)
		}
		return nil, errors.NewInvalidRecordError("record has no type")
	}

	var e *Entity
	if hasID {
		e = s.resolveLocked(entityType, id)
	} else {
		e = s.newUnsavedLocked(entityType)
	}
	memo[ptr] = e

	err := s.updateLocked(e, raw, memo)
	if err != nil {
		return nil, err
	}

	return e, nil
}

// updateLocked merges one record's attributes into dst: dotted deep fields
// are folded into the linked entity, link values are recursively merged, and
// backrefs are adjusted for every link that appears or goes away.
func (s *Session) updateLocked(dst *Entity, src record.RawRecord, memo map[uintptr]*Entity) error {
	flat := make(map[string]any, len(src))
	folded := map[string]map[string]any{}

	for key, value := range src {
		m := deepFieldPattern.FindStringSubmatch(key)
		if m == nil {
			flat[key] = value
			continue
		}

		if value == nil {
			continue
		}

		local, linkType, deepField := m[1], m[2], m[3]

		nested, ok := folded[local]
		if !ok {
			nested = map[string]any{}

			// Seed with the link value from the same row, if any.
			switch link := src[local].(type) {
			case record.RawRecord:
				for k, v := range link {
					nested[k] = v
				}
			case map[string]any:
				for k, v := range link {
					nested[k] = v
				}
			case *Entity:
				if link != nil {
					nested[record.AttributeType] = link.entityType
					if link.Saved() {
						nested[record.AttributeID] = link.id
					}
				}
			}

			if _, ok := nested[record.AttributeType]; !ok {
				nested[record.AttributeType] = linkType
			}
			folded[local] = nested
		}

		// Deep fields of a different type than the link are stale leftovers
		// from a retyped link and must not pollute the linked entity.
		if nested[record.AttributeType] == linkType {
			nested[deepField] = value
		}

		// The dotted key stays visible on the target as well.
		flat[key] = value
	}

	for local, nested := range folded {
		if _, ok := nested[record.AttributeID]; !ok {
			// Anchor the folded data on the already cached link so repeated
			// merges keep hitting the same instance.
			if existing, ok := dst.fields[local].(*Entity); ok &&
				existing.Saved() && existing.entityType == nested[record.AttributeType] {
				nested[record.AttributeID] = existing.id
			}
		}
		flat[local] = nested
	}

	for key, value := range flat {
		if key == record.AttributeType || key == record.AttributeID {
			continue
		}

		merged, err := s.mergeValueLocked(value, memo)
		if err != nil {
			return err
		}

		old, hadOld := dst.fields[key]
		dst.fields[key] = merged

		if hadOld || containsEntities(merged) {
			s.updateBackrefsLocked(dst, key, old, merged)
		}
	}

	return nil
}

func (s *Session) mergeValueLocked(value any, memo map[uintptr]*Entity) (any, error) {
	switch v := value.(type) {
	case record.RawRecord:
		return s.mergeMapLocked(v, memo)
	case map[string]any:
		return s.mergeMapLocked(record.RawRecord(v), memo)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			merged, err := s.mergeValueLocked(v[i], memo)
			if err != nil {
				return nil, err
			}
			out[i] = merged
		}
		return out, nil
	case *Entity:
		if v == nil {
			return nil, nil
		}
		if v.owner.Value() != s {
			return nil, errors.NewNotOwnedError(
				fmt.Sprintf("%s belongs to another session", v),
			)
		}
		return v, nil
	default:
		return value, nil
	}
}

// mergeMapLocked turns maps that carry a type into entities and keeps
// everything else as plain data, still merging nested values.
func (s *Session) mergeMapLocked(m record.RawRecord, memo map[uintptr]*Entity) (any, error) {
	if m.Type() != "" {
		return s.mergeRecordLocked(m, memo)
	}

	if _, hasID := m.ID(); hasID {
		return nil, errors.NewInvalidRecordError("linked record has an id but no type")
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		merged, err := s.mergeValueLocked(v, memo)
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}

	return out, nil
}

// updateBackrefsLocked reconciles the backrefs implied by a field changing
// from old to new: entities newly linked gain a backref, entities no longer
// linked lose theirs.
func (s *Session) updateBackrefsLocked(source *Entity, field string, old, updated any) {
	key := BackrefKey{SourceType: source.entityType, Field: field}

	before := map[*Entity]struct{}{}
	collectEntities(old, before)

	after := map[*Entity]struct{}{}
	collectEntities(updated, after)

	for target := range after {
		if _, had := before[target]; !had {
			addBackref(target, key, source)
		}
	}

	for target := range before {
		if _, still := after[target]; !still {
			removeBackref(target, key, source)
		}
	}
}

func collectEntities(v any, into map[*Entity]struct{}) {
	switch value := v.(type) {
	case *Entity:
		if value != nil {
			into[value] = struct{}{}
		}
	case []any:
		for i := range value {
			collectEntities(value[i], into)
		}
	case map[string]any:
		for _, item := range value {
			collectEntities(item, into)
		}
	}
}

func containsEntities(v any) bool {
	found := map[*Entity]struct{}{}
	collectEntities(v, found)
	return len(found) > 0
}

func addBackref(target *Entity, key BackrefKey, source *Entity) {
	refs := target.backrefs[key]
	for _, existing := range refs {
		if existing == source {
			return
		}
	}
	target.backrefs[key] = append(refs, source)
}

func removeBackref(target *Entity, key BackrefKey, source *Entity) {
	refs := target.backrefs[key]
	for i, existing := range refs {
		if existing == source {
			target.backrefs[key] = append(refs[:i:i], refs[i+1:]...)
			return
		}
	}
}
