package session

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"weak"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/record/errors"
)

// deepFieldPattern matches dotted field paths that reach through a link into
// a linked entity, e.g. "entity.Shot.code".
var deepFieldPattern = regexp.MustCompile(`^(\w+)\.([A-Z]\w*)\.(.+)$`)

// BackrefKey identifies the inverse of a link: the type of the linking
// entity and the field it links through.
type BackrefKey struct {
	SourceType string
	Field      string
}

type existence int8

const (
	existenceUnknown existence = iota
	existenceConfirmed
	existenceRetired
)

// Entity is the single local representation of one remote record. All
// entities with the same type and identity resolve to the same instance for
// the lifetime of their session.
//
// Fields are accumulated across merges and may link to other entities of the
// same session. Writes must go through the session's merge and mutation
// paths; direct field mutation would bypass backref maintenance.
type Entity struct {
	entityType string
	id         int64

	// placeholder distinguishes unsaved entities, which have no identity
	// yet and are never placed in the registry.
	placeholder string

	// owner must not keep the session alive; a collected or closed session
	// turns the entity detached.
	owner weak.Pointer[Session]

	fields   map[string]any
	backrefs map[BackrefKey][]*Entity
	exists   existence
}

func (e *Entity) Type() string {
	return e.entityType
}

// ID returns the remote identity, or zero for unsaved entities.
func (e *Entity) ID() int64 {
	return e.id
}

// Saved reports whether the remote service has assigned this entity an
// identity.
func (e *Entity) Saved() bool {
	return e.placeholder == ""
}

// Ref returns the minimal raw representation of this entity: type and id.
func (e *Entity) Ref() record.RawRecord {
	return record.NewRef(e.entityType, e.id)
}

func (e *Entity) String() string {
	if !e.Saved() {
		return fmt.Sprintf("<%s:unsaved:%s>", e.entityType, e.placeholder[:8])
	}
	return fmt.Sprintf("<%s:%d>", e.entityType, e.id)
}

// rlock takes the owning session's read guard if the session is still alive,
// and returns the matching release func. Detached entities can no longer be
// mutated by anyone, so reading them without a guard is safe.
func (e *Entity) rlock() func() {
	if s := e.owner.Value(); s != nil {
		s.mu.RLock()
		return s.mu.RUnlock
	}
	return func() {}
}

// session returns the owning session, or a DetachedEntityError if it has
// been closed or collected.
func (e *Entity) session() (*Session, error) {
	s := e.owner.Value()
	if s == nil || s.isClosed() {
		return nil, errors.NewDetachedEntityError(
			fmt.Sprintf("%s is no longer attached to a live session", e),
		)
	}
	return s, nil
}

// Field returns the value of a field, or a MissingFieldError if it has never
// been fetched. Dotted paths such as "entity.Shot.code" traverse links: each
// path segment pair names the link field and the expected type of the linked
// entity.
func (e *Entity) Field(name string) (any, error) {
	defer e.rlock()()
	return e.fieldLocked(name)
}

func (e *Entity) fieldLocked(name string) (any, error) {
	src := e
	remote := name

	for {
		m := deepFieldPattern.FindStringSubmatch(remote)
		if m == nil {
			break
		}

		// The exact dotted key may have been stored by a previous merge.
		if v, ok := src.fields[remote]; ok {
			return v, nil
		}

		local, linkType, rest := m[1], m[2], m[3]

		v, ok := src.fields[local]
		if !ok {
			return nil, errors.NewMissingFieldError(name)
		}

		linked, ok := v.(*Entity)
		if !ok || linked == nil || linked.entityType != linkType {
			return nil, errors.NewMissingFieldError(name)
		}

		src = linked
		remote = rest
	}

	v, ok := src.fields[remote]
	if !ok {
		return nil, errors.NewMissingFieldError(name)
	}

	return v, nil
}

// Get returns the value of a field, or the supplied default if the field has
// not been fetched.
func (e *Entity) Get(name string, def any) any {
	v, err := e.Field(name)
	if err != nil {
		return def
	}
	return v
}

// Has reports whether a field has been fetched.
func (e *Entity) Has(name string) bool {
	_, err := e.Field(name)
	return err == nil
}

// FieldNames returns the names of all fetched fields in sorted order.
func (e *Entity) FieldNames() []string {
	defer e.rlock()()

	names := make([]string, 0, len(e.fields))
	for name := range e.fields {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Backrefs returns the entities known to link to this one through the given
// field on the given type, in the order the links were discovered.
func (e *Entity) Backrefs(sourceType, field string) []*Entity {
	defer e.rlock()()

	refs := e.backrefs[BackrefKey{SourceType: sourceType, Field: field}]
	out := make([]*Entity, len(refs))
	copy(out, refs)
	return out
}

// Fetch requests the named fields from the remote service unless they are
// already present, merging the result into this entity.
func (e *Entity) Fetch(ctx context.Context, fields ...string) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	return s.Fetch(ctx, []*Entity{e}, fields)
}

// Exists reports whether the remote record is known to exist (i.e. has not
// been deleted). The remote service is consulted if we do not know yet.
func (e *Entity) Exists(ctx context.Context) (bool, error) {
	if !e.Saved() {
		return false, nil
	}

	release := e.rlock()
	known := e.exists
	release()

	if known != existenceUnknown {
		return known == existenceConfirmed, nil
	}

	s, err := e.session()
	if err != nil {
		return false, err
	}

	_, err = s.FilterExists(ctx, []*Entity{e})
	if err != nil {
		return false, err
	}

	defer e.rlock()()
	return e.exists == existenceConfirmed, nil
}

// Parent returns the logical parent of this entity per the session's field
// policy, fetching the parent link if it is not populated yet. A nil result
// means the entity is at the root of its branch.
func (e *Entity) Parent(ctx context.Context) (*Entity, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}

	parentField, ok := s.schema.ParentField(e.entityType)
	if !ok {
		return nil, fmt.Errorf("type %s has no parent field defined", e.entityType)
	}

	if parentField == "" {
		return nil, nil
	}

	if !e.Has(parentField) {
		err = e.Fetch(ctx, parentField)
		if err != nil {
			return nil, err
		}
	}

	parent, _ := e.Get(parentField, nil).(*Entity)
	return parent, nil
}

// Project returns the root ancestor of this entity, preferring links that
// are already cached over remote round trips. Whatever part of the ancestry
// is populated is reused; only the topmost unresolved link is fetched.
func (e *Entity) Project(ctx context.Context) (*Entity, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}

	if s.schema.IsRoot(e.entityType) {
		return e, nil
	}

	if project, ok := e.Get("project", nil).(*Entity); ok && project != nil {
		return project, nil
	}

	_, err = s.FetchHierarchy(ctx, []*Entity{e})
	if err != nil {
		return nil, err
	}

	if project, ok := e.Get("project", nil).(*Entity); ok && project != nil {
		return project, nil
	}

	// Fall back on walking the parent chain we just resolved.
	for cur := e; cur != nil; {
		if s.schema.IsRoot(cur.entityType) {
			return cur, nil
		}
		parentField, ok := s.schema.ParentField(cur.entityType)
		if !ok || parentField == "" {
			break
		}
		cur, _ = cur.Get(parentField, nil).(*Entity)
	}

	return nil, nil
}

// AsRecord exports the entity and every linked entity as plain raw records,
// suitable for serialization and for re-merging into another session. The
// first occurrence of each entity carries all of its fields; subsequent ones
// are minimal references.
func (e *Entity) AsRecord() record.RawRecord {
	defer e.rlock()()

	visited := map[*Entity]struct{}{}
	return e.asRecordLocked(visited)
}

func (e *Entity) asRecordLocked(visited map[*Entity]struct{}) record.RawRecord {
	if _, seen := visited[e]; seen {
		return e.Ref()
	}
	visited[e] = struct{}{}

	out := record.RawRecord{record.AttributeType: e.entityType}
	if e.Saved() {
		out[record.AttributeID] = e.id
	}

	for name, value := range e.fields {
		out[name] = exportValue(value, visited)
	}

	return out
}

func exportValue(v any, visited map[*Entity]struct{}) any {
	switch value := v.(type) {
	case *Entity:
		if value == nil {
			return nil
		}
		return value.asRecordLocked(visited)
	case []any:
		out := make([]any, len(value))
		for i := range value {
			out[i] = exportValue(value[i], visited)
		}
		return out
	default:
		return v
	}
}

// Dump writes a human readable tree of this entity, its fields and its
// linked entities to w. Cycles are cut with an ellipsis.
func (e *Entity) Dump(w io.Writer) {
	defer e.rlock()()
	e.dumpLocked(w, 0, map[*Entity]struct{}{})
}

func (e *Entity) dumpLocked(w io.Writer, depth int, visited map[*Entity]struct{}) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "\t"
	}

	if _, seen := visited[e]; seen {
		fmt.Fprintf(w, "%s ...\n", e)
		return
	}
	visited[e] = struct{}{}

	if len(e.fields) == 0 {
		fmt.Fprintf(w, "%s {}\n", e)
		return
	}

	fmt.Fprintf(w, "%s {\n", e)

	names := make([]string, 0, len(e.fields))
	for name := range e.fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		switch value := e.fields[name].(type) {
		case *Entity:
			fmt.Fprintf(w, "%s\t%s = ", indent, name)
			if value == nil {
				fmt.Fprintln(w, "<nil>")
			} else {
				value.dumpLocked(w, depth+1, visited)
			}
		default:
			fmt.Fprintf(w, "%s\t%s = %#v\n", indent, name, value)
		}
	}

	fmt.Fprintf(w, "%s}\n", indent)
}
