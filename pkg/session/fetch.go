package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/record/errors"
)

// QueryOption modifies a query before it is sent to the record service.
type QueryOption func(*record.Query)

// WithOrder sets the sort order of the result.
func WithOrder(keys ...record.SortKey) QueryOption {
	return func(q *record.Query) {
		q.Order = keys
	}
}

// WithLimit caps the number of returned records.
func WithLimit(limit int) QueryOption {
	return func(q *record.Query) {
		q.Limit = limit
	}
}

// Find queries the record service and merges every returned record into the
// session. The requested field list is augmented with the important and
// parent fields of the queried type before it goes on the wire.
func (s *Session) Find(ctx context.Context, entityType string, filters []record.Filter, fields []string, options ...QueryOption) ([]*Entity, error) {
	var err error

	ctx, span := tracer.Start(ctx, "find-records",
		trace.WithAttributes(attribute.String(TraceAttributeEntityType, entityType)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if s.isClosed() {
		err = errors.NewDetachedEntityError("session is closed")
		return nil, err
	}

	q := record.Query{
		Type:    entityType,
		Filters: filters,
		Fields:  s.schema.EffectiveFields(entityType, fields),
	}

	for _, option := range options {
		option(&q)
	}

	result, err := s.client.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	found := []*Entity{}

	for row := range result.Found {
		if row == nil {
			break
		}

		// A failed row aborts the find, but the stream must still be
		// drained so the producer can finish.
		if err != nil {
			continue
		}

		var e *Entity
		e, err = s.MergeOne(row)
		if err != nil {
			continue
		}

		s.mu.Lock()
		if e.exists == existenceUnknown {
			e.exists = existenceConfirmed
		}
		s.mu.Unlock()

		found = append(found, e)
	}

	return found, err
}

// FindOne returns the first match of a query, or nil if nothing matched.
func (s *Session) FindOne(ctx context.Context, entityType string, filters []record.Filter, fields []string, options ...QueryOption) (*Entity, error) {
	options = append(options, WithLimit(1))

	found, err := s.Find(ctx, entityType, filters, fields, options...)
	if err != nil {
		return nil, err
	}

	if len(found) == 0 {
		return nil, nil
	}

	return found[0], nil
}

// Get returns the entity with the given identity, fetching it from the
// record service if the session has not seen it, or if any of the requested
// fields are missing from the cached copy.
func (s *Session) Get(ctx context.Context, entityType string, id int64, fields ...string) (*Entity, error) {
	if e, ok := s.Cached(entityType, id); ok {
		err := s.Fetch(ctx, []*Entity{e}, fields)
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	e, err := s.FindOne(ctx, entityType, []record.Filter{record.Is(record.AttributeID, id)}, fields)
	if err != nil {
		return nil, err
	}

	if e == nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("%s with id %d does not exist", entityType, id))
	}

	return e, nil
}

type fetchOptions struct {
	force bool
}

// FetchOption modifies how Fetch treats already cached fields.
type FetchOption func(*fetchOptions)

// Force refetches fields even when the cached copy already has them.
func Force() FetchOption {
	return func(o *fetchOptions) {
		o.force = true
	}
}

// Fetch requests the given fields for a group of entities, one query per
// distinct type. Entities that already carry every requested field are
// skipped unless Force is given. All entities must belong to this session.
func (s *Session) Fetch(ctx context.Context, entities []*Entity, fields []string, options ...FetchOption) error {
	var err error

	ctx, span := tracer.Start(ctx, "fetch-fields")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = s.assertOwnership(entities)
	if err != nil {
		return err
	}

	opts := fetchOptions{}
	for _, option := range options {
		option(&opts)
	}

	for entityType, group := range s.groupSavedByType(entities) {
		todo := group
		if !opts.force {
			todo = missingAnyField(group, fields)
		}

		if len(todo) == 0 {
			continue
		}

		err = s.fetchGroup(ctx, entityType, todo, fields)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) fetchGroup(ctx context.Context, entityType string, entities []*Entity, fields []string) error {
	found, err := s.Find(ctx, entityType,
		[]record.Filter{record.In(record.AttributeID, idsOf(entities)...)},
		fields,
	)
	if err != nil {
		return err
	}

	if len(found) < len(entities) {
		returned := map[int64]struct{}{}
		for _, e := range found {
			returned[e.id] = struct{}{}
		}

		missing := []string{}

		s.mu.Lock()
		for _, e := range entities {
			if _, ok := returned[e.id]; !ok {
				s.forgetLocked(e)
				missing = append(missing, e.String())
			}
		}
		s.mu.Unlock()

		return errors.NewNotFoundError(
			fmt.Sprintf("%s no longer exist", strings.Join(missing, ", ")),
		)
	}

	return nil
}

// FetchImportant fetches the important fields of each entity's type, as
// configured by the session's field policy.
func (s *Session) FetchImportant(ctx context.Context, entities []*Entity) error {
	err := s.assertOwnership(entities)
	if err != nil {
		return err
	}

	for entityType, group := range s.groupSavedByType(entities) {
		err = s.Fetch(ctx, group, s.schema.ImportantFieldsFor(entityType))
		if err != nil {
			return err
		}
	}

	return nil
}

// FetchBackrefs finds every record of sourceType that links to one of the
// given entities through the named field, and merges them so that the
// entities' backrefs are populated.
func (s *Session) FetchBackrefs(ctx context.Context, entities []*Entity, sourceType, field string) ([]*Entity, error) {
	var err error

	ctx, span := tracer.Start(ctx, "fetch-backrefs",
		trace.WithAttributes(attribute.String(TraceAttributeEntityType, sourceType)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = s.assertOwnership(entities)
	if err != nil {
		return nil, err
	}

	refs := make([]any, 0, len(entities))
	for _, e := range entities {
		if e.Saved() {
			refs = append(refs, e.Ref())
		}
	}

	if len(refs) == 0 {
		return nil, nil
	}

	found, err := s.Find(ctx, sourceType, []record.Filter{record.In(field, refs...)}, []string{field})
	return found, err
}

// FilterExists returns the subset of entities that still exist remotely.
// The record service is consulted for entities whose fate is unknown;
// entities already known to be retired are dropped without a round trip.
func (s *Session) FilterExists(ctx context.Context, entities []*Entity) ([]*Entity, error) {
	var err error

	ctx, span := tracer.Start(ctx, "filter-exists")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = s.assertOwnership(entities)
	if err != nil {
		return nil, err
	}

	unknown := []*Entity{}

	s.mu.RLock()
	for _, e := range entities {
		if e.Saved() && e.exists == existenceUnknown {
			unknown = append(unknown, e)
		}
	}
	s.mu.RUnlock()

	for entityType, group := range s.groupSavedByType(unknown) {
		var found []*Entity

		found, err = s.Find(ctx, entityType,
			[]record.Filter{record.In(record.AttributeID, idsOf(group)...)},
			nil,
		)
		if err != nil {
			return nil, err
		}

		returned := map[int64]struct{}{}
		for _, e := range found {
			returned[e.id] = struct{}{}
		}

		s.mu.Lock()
		for _, e := range group {
			if _, ok := returned[e.id]; !ok {
				s.forgetLocked(e)
			}
		}
		s.mu.Unlock()
	}

	existing := []*Entity{}

	s.mu.RLock()
	for _, e := range entities {
		if e.Saved() && e.exists != existenceRetired {
			existing = append(existing, e)
		}
	}
	s.mu.RUnlock()

	return existing, nil
}

func (s *Session) assertOwnership(entities []*Entity) error {
	if s.isClosed() {
		return errors.NewDetachedEntityError("session is closed")
	}

	for _, e := range entities {
		if e == nil {
			return errors.NewNotOwnedError("nil entity")
		}
		if e.owner.Value() != s {
			return errors.NewNotOwnedError(
				fmt.Sprintf("%s belongs to another session", e),
			)
		}
	}

	return nil
}

// groupSavedByType buckets entities per type, dropping unsaved ones and
// duplicates. Iteration order of callers is made deterministic by sorting
// each bucket on id.
func (s *Session) groupSavedByType(entities []*Entity) map[string][]*Entity {
	groups := map[string][]*Entity{}
	seen := map[*Entity]struct{}{}

	for _, e := range entities {
		if e == nil || !e.Saved() {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		groups[e.entityType] = append(groups[e.entityType], e)
	}

	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].id < group[j].id })
	}

	return groups
}

func missingAnyField(entities []*Entity, fields []string) []*Entity {
	todo := []*Entity{}

	for _, e := range entities {
		for _, field := range fields {
			if !e.Has(field) {
				todo = append(todo, e)
				break
			}
		}
	}

	return todo
}

func idsOf(entities []*Entity) []any {
	ids := make([]any, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.id)
	}
	return ids
}
