package session

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/test"
)

func TestFetchHierarchyClimbsToTheRoot(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			switch query.Type {
			case "Task":
				return queryResultOf(record.RawRecord{
					"type": "Task", "id": 1,
					"entity": map[string]any{
						"type": "Shot", "id": 2,
						"sequence": map[string]any{"type": "Sequence", "id": 3},
					},
				}), nil
			case "Sequence":
				return queryResultOf(record.RawRecord{
					"type": "Sequence", "id": 3,
					"project": map[string]any{"type": "Project", "id": 4},
				}), nil
			default:
				t.Fatalf("unexpected query for type %s", query.Type)
				return nil, nil
			}
		},
	}
	s := New(mock)

	task, _ := s.MergeOne(record.NewRef("Task", 1))

	visited, err := s.FetchHierarchy(context.Background(), []*Entity{task})
	is.NoErr(err)

	is.Equal(len(visited), 4) // task, shot, sequence and project
	is.Equal(len(mock.QueryCalls()), 2)

	project, ok := s.Cached("Project", 4)
	is.True(ok)
	is.True(visited[len(visited)-1] == project)
}

func TestFetchHierarchyClimbsCachedParentsForFree(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{}
	s := New(mock)

	shot, err := s.MergeOne(record.RawRecord{
		"type": "Shot", "id": 2,
		"sequence": map[string]any{
			"type": "Sequence", "id": 3,
			"project": map[string]any{"type": "Project", "id": 4},
		},
	})
	is.NoErr(err)

	visited, err := s.FetchHierarchy(context.Background(), []*Entity{shot})
	is.NoErr(err)

	is.Equal(len(visited), 3)
	is.Equal(len(mock.QueryCalls()), 0)
}

func TestFetchHierarchyTreatsNullParentAsBranchRoot(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			return queryResultOf(record.RawRecord{"type": "Shot", "id": 2, "sequence": nil}), nil
		},
	}
	s := New(mock)

	shot, _ := s.MergeOne(record.NewRef("Shot", 2))

	visited, err := s.FetchHierarchy(context.Background(), []*Entity{shot})
	is.NoErr(err)

	is.Equal(len(visited), 1)
	is.Equal(len(mock.QueryCalls()), 1)
}

func TestFetchHierarchyBatchesPerType(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{
		QueryFunc: func(ctx context.Context, query record.Query) (*record.QueryResult, error) {
			switch query.Type {
			case "Shot":
				return queryResultOf(
					record.RawRecord{"type": "Shot", "id": 1, "sequence": map[string]any{"type": "Sequence", "id": 10}},
					record.RawRecord{"type": "Shot", "id": 2, "sequence": map[string]any{"type": "Sequence", "id": 10}},
				), nil
			case "Sequence":
				return queryResultOf(
					record.RawRecord{"type": "Sequence", "id": 10, "project": map[string]any{"type": "Project", "id": 100}},
				), nil
			default:
				t.Fatalf("unexpected query for type %s", query.Type)
				return nil, nil
			}
		},
	}
	s := New(mock)

	a, _ := s.MergeOne(record.NewRef("Shot", 1))
	b, _ := s.MergeOne(record.NewRef("Shot", 2))

	visited, err := s.FetchHierarchy(context.Background(), []*Entity{a, b})
	is.NoErr(err)

	is.Equal(len(visited), 4) // two shots, one sequence, one project
	is.Equal(len(mock.QueryCalls()), 2)
}

func TestProjectPrefersCachedAncestry(t *testing.T) {
	is := is.New(t)

	mock := &test.RecordServiceMock{}
	s := New(mock)

	task, err := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"project": map[string]any{"type": "Project", "id": 4},
	})
	is.NoErr(err)

	project, err := task.Project(context.Background())
	is.NoErr(err)

	is.Equal(project.ID(), int64(4))
	is.Equal(len(mock.QueryCalls()), 0)
}
