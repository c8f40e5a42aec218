package session

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/matryer/is"

	"github.com/diwise/entity-session/pkg/record"
	recorderrors "github.com/diwise/entity-session/pkg/record/errors"
	"github.com/diwise/entity-session/pkg/test"
)

func queryResultOf(rows ...record.RawRecord) *record.QueryResult {
	qr := record.NewQueryResult()
	qr.TotalCount = int64(len(rows))

	go func() {
		for _, row := range rows {
			qr.Found <- row
		}
		qr.Found <- nil
	}()

	return qr
}

func TestFindMergesRowsAndAugmentsFieldList(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			return queryResultOf(
				record.RawRecord{"type": "Task", "id": 1, "content": "animate tree"},
				record.RawRecord{"type": "Task", "id": 2, "content": "light tree"},
			), nil
		},
	}
	s := New(mock)

	found, err := s.Find(context.Background(), "Task", nil, []string{"content"})
	is.NoErr(err)
	is.Equal(len(found), 2)

	_, ok := s.Cached("Task", 1)
	is.True(ok)

	requested := mock.QueryCalls()[0].Query.Fields
	is.True(slices.Contains(requested, "content"))
	is.True(slices.Contains(requested, "updated_at"))

	// links expand into the important fields of their candidate types,
	// identity included
	is.True(slices.Contains(requested, "entity.Shot.code"))
	is.True(slices.Contains(requested, "entity.Shot.id"))
	is.True(slices.Contains(requested, "entity.Asset.id"))
}

func TestFindAbortsOnMalformedRows(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			return queryResultOf(
				record.RawRecord{"type": "Task", "id": 1, "content": "animate tree"},
				record.RawRecord{"type": "Task", "id": 2, "entity": map[string]any{"id": 3}},
				record.RawRecord{"type": "Task", "id": 4},
			), nil
		},
	}
	s := New(mock)

	found, err := s.Find(context.Background(), "Task", nil, []string{"content"})
	is.True(errors.Is(err, recorderrors.ErrInvalidRecord))

	// rows merged before the failure stand
	is.Equal(len(found), 1)
	_, ok := s.Cached("Task", 1)
	is.True(ok)
	_, ok = s.Cached("Task", 4)
	is.True(!ok)
}

func TestFindOneReturnsNilWhenNothingMatches(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			is.Equal(query.Limit, 1)
			return queryResultOf(), nil
		},
	}
	s := New(mock)

	e, err := s.FindOne(context.Background(), "Shot", []record.Filter{record.Is("code", "ZZ_999")}, nil)
	is.NoErr(err)
	is.True(e == nil)
}

func TestGetPrefersTheCache(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{}
	s := New(mock)

	_, err := s.MergeOne(record.RawRecord{"type": "Shot", "id": 1, "code": "AA_001"})
	is.NoErr(err)

	e, err := s.Get(context.Background(), "Shot", 1, "code")
	is.NoErr(err)

	is.Equal(e.Get("code", nil), "AA_001")
	is.Equal(len(mock.QueryCalls()), 0)
}

func TestGetFetchesUnknownEntities(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			return queryResultOf(record.RawRecord{"type": "Shot", "id": 1, "code": "AA_001"}), nil
		},
	}
	s := New(mock)

	e, err := s.Get(context.Background(), "Shot", 1, "code")
	is.NoErr(err)

	is.Equal(e.Get("code", nil), "AA_001")
	is.Equal(len(mock.QueryCalls()), 1)
}

func TestGetReportsMissingEntities(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			return queryResultOf(), nil
		},
	}
	s := New(mock)

	_, err := s.Get(context.Background(), "Shot", 4711)
	is.True(errors.Is(err, recorderrors.ErrNotFound))
}

func TestFetchSkipsEntitiesThatHaveTheFields(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{}
	s := New(mock)

	e, err := s.MergeOne(record.RawRecord{"type": "Shot", "id": 1, "code": "AA_001"})
	is.NoErr(err)

	err = s.Fetch(context.Background(), []*Entity{e}, []string{"code"})
	is.NoErr(err)
	is.Equal(len(mock.QueryCalls()), 0)
}

func TestFetchForceRefetches(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			return queryResultOf(record.RawRecord{"type": "Shot", "id": 1, "code": "AA_002"}), nil
		},
	}
	s := New(mock)

	e, err := s.MergeOne(record.RawRecord{"type": "Shot", "id": 1, "code": "AA_001"})
	is.NoErr(err)

	err = s.Fetch(context.Background(), []*Entity{e}, []string{"code"}, Force())
	is.NoErr(err)

	is.Equal(len(mock.QueryCalls()), 1)
	is.Equal(e.Get("code", nil), "AA_002")
}

func TestFetchRetiresVanishedEntities(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			return queryResultOf(), nil
		},
	}
	s := New(mock)

	e, err := s.MergeOne(record.RawRecord{"type": "Shot", "id": 1, "code": "AA_001"})
	is.NoErr(err)

	err = s.Fetch(context.Background(), []*Entity{e}, []string{"description"})
	is.True(errors.Is(err, recorderrors.ErrNotFound))

	// gone from the registry, but the stale snapshot stays readable
	_, ok := s.Cached("Shot", 1)
	is.True(!ok)
	is.Equal(e.Get("code", nil), "AA_001")

	exists, err := e.Exists(context.Background())
	is.NoErr(err)
	is.True(!exists)
}

func TestFetchRejectsForeignEntities(t *testing.T) {
	is := is.New(t)

	other := newTestSession()
	stranger, err := other.Resolve("Shot", 1)
	is.NoErr(err)

	s := newTestSession()
	err = s.Fetch(context.Background(), []*Entity{stranger}, []string{"code"})
	is.True(errors.Is(err, recorderrors.ErrNotOwned))
}

func TestFilterExistsConsultsTheServiceOnce(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			return queryResultOf(record.RawRecord{"type": "Shot", "id": 1}), nil
		},
	}
	s := New(mock)

	a, _ := s.MergeOne(record.RawRecord{"type": "Shot", "id": 1})
	b, _ := s.MergeOne(record.RawRecord{"type": "Shot", "id": 2})

	existing, err := s.FilterExists(context.Background(), []*Entity{a, b})
	is.NoErr(err)

	is.Equal(len(existing), 1)
	is.True(existing[0] == a)
	is.Equal(len(mock.QueryCalls()), 1)

	// fates are now known, so a second pass is free
	existing, err = s.FilterExists(context.Background(), []*Entity{a, b})
	is.NoErr(err)
	is.Equal(len(existing), 1)
	is.Equal(len(mock.QueryCalls()), 1)
}

func TestFetchBackrefsPopulatesInverseLinks(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			is.Equal(query.Type, "Task")
			return queryResultOf(
				record.RawRecord{"type": "Task", "id": 10, "entity": map[string]any{"type": "Shot", "id": 1}},
				record.RawRecord{"type": "Task", "id": 11, "entity": map[string]any{"type": "Shot", "id": 1}},
			), nil
		},
	}
	s := New(mock)

	shot, _ := s.MergeOne(record.RawRecord{"type": "Shot", "id": 1})

	found, err := s.FetchBackrefs(context.Background(), []*Entity{shot}, "Task", "entity")
	is.NoErr(err)

	is.Equal(len(found), 2)
	is.Equal(len(shot.Backrefs("Task", "entity")), 2)
}

func TestClosedSessionDetachesItsEntities(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	e, err := s.MergeOne(record.RawRecord{"type": "Shot", "id": 1, "code": "AA_001"})
	is.NoErr(err)

	s.Close()

	err = e.Fetch(context.Background(), "description")
	is.True(errors.Is(err, recorderrors.ErrDetachedEntity))

	// already fetched data remains readable
	is.Equal(e.Get("code", nil), "AA_001")
}
