package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/record/errors"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by a postgres database. Records
// are stored as jsonb documents keyed on type and id.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	ddl := `
	CREATE TABLE IF NOT EXISTS records (
		record_type TEXT NOT NULL,
		record_id BIGINT NOT NULL,
		data JSONB NOT NULL,
		PRIMARY KEY (record_type, record_id)
	);
	CREATE SEQUENCE IF NOT EXISTS record_id_seq;`

	_, err := pool.Exec(ctx, ddl)
	if err != nil {
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}

	return &pgStore{pool: pool}, nil
}

func (s *pgStore) lookupWith(ctx context.Context) lookupFunc {
	return func(entityType string, id int64) (record.RawRecord, bool) {
		var data []byte

		err := s.pool.QueryRow(ctx,
			`SELECT data FROM records WHERE record_type = $1 AND record_id = $2`,
			entityType, id,
		).Scan(&data)
		if err != nil {
			return nil, false
		}

		r := record.RawRecord{}
		if json.Unmarshal(data, &r) != nil {
			return nil, false
		}

		return r, true
	}
}

func (s *pgStore) Query(ctx context.Context, q record.Query) ([]record.RawRecord, int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM records WHERE record_type = $1`, q.Type,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	lookup := s.lookupWith(ctx)
	matched := []record.RawRecord{}

	for rows.Next() {
		var data []byte
		err = rows.Scan(&data)
		if err != nil {
			return nil, 0, err
		}

		r := record.RawRecord{}
		err = json.Unmarshal(data, &r)
		if err != nil {
			return nil, 0, err
		}

		ok, err := matches(r, q.Filters, lookup)
		if err != nil {
			return nil, 0, errors.NewBadRequestError(err.Error())
		}
		if ok {
			matched = append(matched, r)
		}
	}

	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}

	sortRecords(matched, q.Order, lookup)

	total := int64(len(matched))
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]record.RawRecord, len(matched))
	for i, r := range matched {
		out[i] = project(r, q.Fields, lookup)
	}

	return out, total, nil
}

func (s *pgStore) Create(ctx context.Context, entityType string, data record.RawRecord) (record.RawRecord, error) {
	if entityType == "" {
		return nil, errors.NewInvalidRecordError("record has no type")
	}

	var id int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('record_id_seq')`).Scan(&id)
	if err != nil {
		return nil, err
	}

	r := make(record.RawRecord, len(data)+2)
	for k, v := range data {
		r[k] = v
	}
	r[record.AttributeType] = entityType
	r[record.AttributeID] = id

	doc, err := json.Marshal(r)
	if err != nil {
		return nil, errors.NewInvalidRecordError(err.Error())
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (record_type, record_id, data) VALUES ($1, $2, $3)`,
		entityType, id, doc,
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

func (s *pgStore) Update(ctx context.Context, entityType string, id int64, data record.RawRecord) (record.RawRecord, error) {
	var existing []byte

	err := s.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE record_type = $1 AND record_id = $2`,
		entityType, id,
	).Scan(&existing)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError(fmt.Sprintf("no %s with id %d", entityType, id))
	}
	if err != nil {
		return nil, err
	}

	merged := record.RawRecord{}
	err = json.Unmarshal(existing, &merged)
	if err != nil {
		return nil, err
	}

	for k, v := range data {
		if k == record.AttributeType || k == record.AttributeID {
			continue
		}
		merged[k] = v
	}

	doc, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.NewInvalidRecordError(err.Error())
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE records SET data = $3 WHERE record_type = $1 AND record_id = $2`,
		entityType, id, doc,
	)
	if err != nil {
		return nil, err
	}

	return merged, nil
}

func (s *pgStore) Delete(ctx context.Context, entityType string, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE record_type = $1 AND record_id = $2`,
		entityType, id,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError(fmt.Sprintf("no %s with id %d", entityType, id))
	}

	return nil
}
