package session

import (
	"context"
	"fmt"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/record/errors"
)

// Create stores a new record remotely and merges the created record,
// including its important fields, into the session.
func (s *Session) Create(ctx context.Context, entityType string, data record.RawRecord, returnFields ...string) (*Entity, error) {
	var err error

	ctx, span := tracer.Start(ctx, "create-record",
		trace.WithAttributes(attribute.String(TraceAttributeEntityType, entityType)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if s.isClosed() {
		err = errors.NewDetachedEntityError("session is closed")
		return nil, err
	}

	created, err := s.client.Create(ctx, entityType,
		minimizeRecord(data),
		s.schema.EffectiveFields(entityType, returnFields),
	)
	if err != nil {
		return nil, err
	}

	e, err := s.MergeOne(created)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	e.exists = existenceConfirmed
	s.mu.Unlock()

	return e, nil
}

// Update applies a partial update to the remote record and merges the
// updated state back onto the entity.
func (s *Session) Update(ctx context.Context, e *Entity, data record.RawRecord) error {
	var err error

	ctx, span := tracer.Start(ctx, "update-record",
		trace.WithAttributes(
			attribute.String(TraceAttributeEntityType, e.Type()),
			attribute.Int64(TraceAttributeEntityID, e.ID()),
		),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = s.assertOwnership([]*Entity{e})
	if err != nil {
		return err
	}

	if !e.Saved() {
		err = errors.NewInvalidRecordError(fmt.Sprintf("%s has not been saved yet", e))
		return err
	}

	updated, err := s.client.Update(ctx, e.entityType, e.id,
		minimizeRecord(data),
		s.schema.EffectiveFields(e.entityType, nil),
	)
	if err != nil {
		return err
	}

	_, err = s.MergeOne(updated)
	return err
}

// Delete retires the remote record. The entity is removed from the registry
// and marked as no longer existing; its fields and backrefs remain readable
// as a stale snapshot of the state before deletion.
func (s *Session) Delete(ctx context.Context, e *Entity) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-record",
		trace.WithAttributes(
			attribute.String(TraceAttributeEntityType, e.Type()),
			attribute.Int64(TraceAttributeEntityID, e.ID()),
		),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = s.assertOwnership([]*Entity{e})
	if err != nil {
		return err
	}

	if !e.Saved() {
		err = errors.NewInvalidRecordError(fmt.Sprintf("%s has not been saved yet", e))
		return err
	}

	err = s.client.Delete(ctx, e.entityType, e.id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.forgetLocked(e)
	s.mu.Unlock()

	return nil
}

// Batch sends a group of mutations in one round trip and merges the
// results. The returned slice is parallel to the requests; delete requests
// yield a nil entry.
func (s *Session) Batch(ctx context.Context, requests []record.BatchRequest) ([]*Entity, error) {
	var err error

	ctx, span := tracer.Start(ctx, "batch-mutations")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if s.isClosed() {
		err = errors.NewDetachedEntityError("session is closed")
		return nil, err
	}

	prepared := make([]record.BatchRequest, len(requests))
	for i, request := range requests {
		prepared[i] = request
		if request.Data != nil {
			prepared[i].Data = minimizeRecord(request.Data)
		}
	}

	results, err := s.client.Batch(ctx, prepared)
	if err != nil {
		return nil, err
	}

	out := make([]*Entity, len(requests))

	for i, request := range requests {
		if request.Op == record.OpDelete {
			if e, ok := s.Cached(request.Type, request.ID); ok {
				s.mu.Lock()
				s.forgetLocked(e)
				s.mu.Unlock()
			}
			continue
		}

		if i >= len(results) || results[i] == nil {
			err = errors.NewBadResponseError("batch response is missing a result")
			return nil, err
		}

		out[i], err = s.MergeOne(results[i])
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// minimizeRecord prepares outbound data: entities and entity-shaped maps
// collapse to minimal type and id references, everything else passes
// through.
func minimizeRecord(data record.RawRecord) record.RawRecord {
	out := make(record.RawRecord, len(data))
	for k, v := range data {
		out[k] = minimizeValue(v)
	}
	return out
}

func minimizeValue(v any) any {
	switch value := v.(type) {
	case *Entity:
		if value == nil {
			return nil
		}
		return value.Ref()
	case record.RawRecord:
		return minimizeMap(value)
	case map[string]any:
		return minimizeMap(value)
	case []any:
		out := make([]any, len(value))
		for i := range value {
			out[i] = minimizeValue(value[i])
		}
		return out
	default:
		return v
	}
}

func minimizeMap(m map[string]any) any {
	r := record.RawRecord(m)
	if id, ok := r.ID(); ok && r.Type() != "" {
		return record.NewRef(r.Type(), id)
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = minimizeValue(v)
	}
	return out
}
