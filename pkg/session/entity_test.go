package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/diwise/entity-session/pkg/record"
	recorderrors "github.com/diwise/entity-session/pkg/record/errors"
	"github.com/diwise/entity-session/pkg/test"
)

func TestFieldTraversesLinks(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	task, err := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{
			"type": "Shot", "id": 2, "code": "AA_001",
			"sequence": map[string]any{"type": "Sequence", "id": 3, "code": "AA"},
		},
	})
	is.NoErr(err)

	code, err := task.Field("entity.Shot.code")
	is.NoErr(err)
	is.Equal(code, "AA_001")

	code, err = task.Field("entity.Shot.sequence.Sequence.code")
	is.NoErr(err)
	is.Equal(code, "AA")
}

func TestFieldReportsUnfetchedFields(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	task, _ := s.MergeOne(record.RawRecord{"type": "Task", "id": 1})

	_, err := task.Field("content")
	is.True(errors.Is(err, recorderrors.ErrMissingField))

	_, err = task.Field("entity.Shot.code")
	is.True(errors.Is(err, recorderrors.ErrMissingField))

	is.Equal(task.Get("content", "fallback"), "fallback")
}

func TestFieldMismatchedLinkTypeIsMissing(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	task, _ := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{"type": "Asset", "id": 2, "code": "tree"},
	})

	_, err := task.Field("entity.Shot.code")
	is.True(errors.Is(err, recorderrors.ErrMissingField))

	code, err := task.Field("entity.Asset.code")
	is.NoErr(err)
	is.Equal(code, "tree")
}

func TestFieldNamesAreSorted(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	shot, _ := s.MergeOne(record.RawRecord{
		"type": "Shot", "id": 1, "description": "tree falls", "code": "AA_001",
	})

	is.Equal(shot.FieldNames(), []string{"code", "description"})
	is.True(shot.Has("code"))
	is.True(!shot.Has("status"))
}

func TestAsRecordExportsTheGraph(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	task, _ := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{"type": "Shot", "id": 2, "code": "AA_001"},
	})

	exported := task.AsRecord()
	is.Equal(exported.Type(), "Task")

	linked, ok := exported["entity"].(record.RawRecord)
	is.True(ok)
	is.Equal(linked.Type(), "Shot")
	is.Equal(linked["code"], "AA_001")

	// a fresh session rebuilds the same graph from the export
	other := newTestSession()
	imported, err := other.MergeOne(exported)
	is.NoErr(err)

	code, err := imported.Field("entity.Shot.code")
	is.NoErr(err)
	is.Equal(code, "AA_001")
}

func TestAsRecordCutsCyclesWithReferences(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	shot, _ := s.MergeOne(record.RawRecord{
		"type": "Shot", "id": 2,
		"current_task": map[string]any{
			"type": "Task", "id": 1,
			"entity": map[string]any{"type": "Shot", "id": 2},
		},
	})

	exported := shot.AsRecord()
	task := exported["current_task"].(record.RawRecord)
	inner := task["entity"].(record.RawRecord)

	is.Equal(len(inner), 2) // repeat occurrences are minimal refs
	is.True(inner.IsRef())
}

func TestDumpWritesAReadableTree(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	task, _ := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"content": "animate tree",
		"entity":  map[string]any{"type": "Shot", "id": 2, "code": "AA_001"},
	})

	buf := bytes.Buffer{}
	task.Dump(&buf)

	out := buf.String()
	is.True(strings.Contains(out, "<Task:1>"))
	is.True(strings.Contains(out, "content"))
	is.True(strings.Contains(out, "<Shot:2>"))
}

func TestParentFetchesTheParentLink(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			return queryResultOf(record.RawRecord{
				"type": "Shot", "id": 2,
				"sequence": map[string]any{"type": "Sequence", "id": 3},
			}), nil
		},
	}
	s := New(mock)

	shot, _ := s.MergeOne(record.NewRef("Shot", 2))

	parent, err := shot.Parent(context.Background())
	is.NoErr(err)
	is.Equal(parent.Type(), "Sequence")
	is.Equal(parent.ID(), int64(3))

	// a second call is served from the cache
	parent2, err := shot.Parent(context.Background())
	is.NoErr(err)
	is.True(parent2 == parent)
	is.Equal(len(mock.QueryCalls()), 1)
}
