package store

import (
	"context"
	"fmt"
	"io"
	"sync"

	yaml "gopkg.in/yaml.v2"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/record/errors"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[int64]record.RawRecord
	nextID  int64
}

// NewInMemoryStore returns a store that keeps all records in process
// memory. It is the default backend and the one used by tests.
func NewInMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]map[int64]record.RawRecord{},
		nextID:  1,
	}
}

func (s *MemoryStore) lookup(entityType string, id int64) (record.RawRecord, bool) {
	r, ok := s.records[entityType][id]
	return r, ok
}

func (s *MemoryStore) Query(_ context.Context, q record.Query) ([]record.RawRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []record.RawRecord{}

	for _, r := range s.records[q.Type] {
		ok, err := matches(r, q.Filters, s.lookup)
		if err != nil {
			return nil, 0, errors.NewBadRequestError(err.Error())
		}
		if ok {
			matched = append(matched, r)
		}
	}

	sortRecords(matched, q.Order, s.lookup)

	total := int64(len(matched))
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]record.RawRecord, len(matched))
	for i, r := range matched {
		out[i] = project(r, q.Fields, s.lookup)
	}

	return out, total, nil
}

func (s *MemoryStore) Create(_ context.Context, entityType string, data record.RawRecord) (record.RawRecord, error) {
	if entityType == "" {
		return nil, errors.NewInvalidRecordError("record has no type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	return s.storeLocked(entityType, id, data)
}

func (s *MemoryStore) Update(_ context.Context, entityType string, id int64, data record.RawRecord) (record.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[entityType][id]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("no %s with id %d", entityType, id))
	}

	merged := make(record.RawRecord, len(existing)+len(data))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range data {
		if k == record.AttributeType || k == record.AttributeID {
			continue
		}
		merged[k] = v
	}

	s.records[entityType][id] = merged
	return merged, nil
}

func (s *MemoryStore) Delete(_ context.Context, entityType string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[entityType][id]; !ok {
		return errors.NewNotFoundError(fmt.Sprintf("no %s with id %d", entityType, id))
	}

	delete(s.records[entityType], id)
	return nil
}

func (s *MemoryStore) storeLocked(entityType string, id int64, data record.RawRecord) (record.RawRecord, error) {
	r := make(record.RawRecord, len(data)+2)
	for k, v := range data {
		r[k] = normalize(v)
	}
	r[record.AttributeType] = entityType
	r[record.AttributeID] = id

	if s.records[entityType] == nil {
		s.records[entityType] = map[int64]record.RawRecord{}
	}
	s.records[entityType][id] = r

	if id >= s.nextID {
		s.nextID = id + 1
	}

	return r, nil
}

type seedFile struct {
	Records []struct {
		Type   string         `yaml:"type"`
		ID     int64          `yaml:"id"`
		Fields map[string]any `yaml:"fields"`
	} `yaml:"records"`
}

// Seed loads an initial data set from a yaml document into the store.
func (s *MemoryStore) Seed(data io.Reader) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	seed := seedFile{}
	err = yaml.Unmarshal(buf, &seed)
	if err != nil {
		return fmt.Errorf("failed to unmarshal seed data: %s", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range seed.Records {
		if r.Type == "" || r.ID == 0 {
			return errors.NewInvalidRecordError("seed records need both type and id")
		}

		_, err = s.storeLocked(r.Type, r.ID, toRawRecord(r.Fields))
		if err != nil {
			return err
		}
	}

	return nil
}

func toRawRecord(fields map[string]any) record.RawRecord {
	r := make(record.RawRecord, len(fields))
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// normalize rewrites what yaml.v2 hands us (keys as any) into the string
// keyed maps the rest of the code expects.
func normalize(v any) any {
	switch value := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[fmt.Sprintf("%v", k)] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i := range value {
			out[i] = normalize(value[i])
		}
		return out
	default:
		return v
	}
}
