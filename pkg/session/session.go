package session

import (
	"sync"
	"weak"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/diwise/entity-session/pkg/record/client"
	"github.com/diwise/entity-session/pkg/record/errors"
	"github.com/diwise/entity-session/pkg/session/schema"
)

var tracer = otel.Tracer("entity-session/session")

const (
	TraceAttributeEntityType = "entity-type"
	TraceAttributeEntityID   = "entity-id"
)

type registryKey struct {
	entityType string
	id         int64
}

// Session wraps a record service with an identity cache: every record it
// sees resolves to exactly one Entity per (type, id), and all data merged
// from queries and mutations accumulates on those entities.
//
// A single coarse guard covers the registry and all entity state. Merges
// hold it for the full subgraph of one top level record, so readers observe
// records atomically.
type Session struct {
	id     string
	client client.RecordService
	schema *schema.Schema

	mu     sync.RWMutex
	cache  map[registryKey]*Entity
	closed bool
}

// New creates a session on top of the given record service.
func New(service client.RecordService, options ...func(*Session)) *Session {
	s := &Session{
		id:     uuid.NewString(),
		client: service,
		schema: schema.Default(),
		cache:  map[registryKey]*Entity{},
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// WithSchema overrides the default field policy.
func WithSchema(sch *schema.Schema) func(*Session) {
	return func(s *Session) {
		s.schema = sch
	}
}

// ID returns the unique id of this session instance.
func (s *Session) ID() string {
	return s.id
}

// Schema returns the field policy this session applies to queries and
// hierarchy traversal.
func (s *Session) Schema() *schema.Schema {
	return s.schema
}

// Close tears the session down. Entities handed out earlier remain readable
// but report DetachedEntityError from any operation that needs the service.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cache = map[registryKey]*Entity{}
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Resolve returns the one entity for the given type and identity, creating
// an empty one if this session has never seen it. A closed session resolves
// nothing and reports a DetachedEntityError.
func (s *Session) Resolve(entityType string, id int64) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.NewDetachedEntityError("session is closed")
	}

	return s.resolveLocked(entityType, id), nil
}

func (s *Session) resolveLocked(entityType string, id int64) *Entity {
	key := registryKey{entityType: entityType, id: id}

	if e, ok := s.cache[key]; ok {
		return e
	}

	e := &Entity{
		entityType: entityType,
		id:         id,
		owner:      weak.Make(s),
		fields:     map[string]any{},
		backrefs:   map[BackrefKey][]*Entity{},
	}
	s.cache[key] = e

	return e
}

// newUnsavedLocked creates an entity that has no remote identity yet. It is
// never registered; resolving the same type later will not find it.
func (s *Session) newUnsavedLocked(entityType string) *Entity {
	return &Entity{
		entityType:  entityType,
		placeholder: uuid.NewString(),
		owner:       weak.Make(s),
		fields:      map[string]any{},
		backrefs:    map[BackrefKey][]*Entity{},
	}
}

// Cached returns the entity for the given type and identity if this session
// has seen it, without creating one.
func (s *Session) Cached(entityType string, id int64) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.cache[registryKey{entityType: entityType, id: id}]
	return e, ok
}

// Size returns the number of registered entities.
func (s *Session) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// forgetLocked removes the entity from the registry and marks it retired.
// Its fields and backrefs keep their last known values as a stale snapshot.
func (s *Session) forgetLocked(e *Entity) {
	delete(s.cache, registryKey{entityType: e.entityType, id: e.id})
	e.exists = existenceRetired
}
