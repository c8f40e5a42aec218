package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/matryer/is"

	"github.com/diwise/entity-session/pkg/record"
	recorderrors "github.com/diwise/entity-session/pkg/record/errors"
	"github.com/diwise/entity-session/pkg/test"
)

func newTestSession() *Session {
	return New(&test.RecordServiceMock{})
}

func TestMergeResolvesOneInstancePerIdentity(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	first, err := s.MergeOne(record.RawRecord{"type": "Shot", "id": 1234, "code": "AA_001"})
	is.NoErr(err)

	second, err := s.MergeOne(record.RawRecord{"type": "Shot", "id": 1234, "description": "tree falls"})
	is.NoErr(err)

	is.True(first == second)
	is.Equal(first.Get("code", nil), "AA_001")
	is.Equal(first.Get("description", nil), "tree falls")
}

func TestResolveIsSafeForConcurrentUse(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	results := make([]*Entity, 32)

	wg := sync.WaitGroup{}
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = s.Resolve("Shot", 1)
		}()
	}
	wg.Wait()

	for i := range results {
		is.True(results[i] == results[0])
	}
	is.Equal(s.Size(), 1)
}

func TestConcurrentMergesAccumulateOnOneInstance(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	const writers = 32
	errs := make([]error, writers)

	wg := sync.WaitGroup{}
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.MergeOne(record.RawRecord{
				"type": "Shot", "id": 1,
				fmt.Sprintf("field_%d", i): i,
				"sequence":                 map[string]any{"type": "Sequence", "id": 2},
			})
		}()
	}
	wg.Wait()

	for i := range errs {
		is.NoErr(errs[i])
	}

	shot, ok := s.Cached("Shot", 1)
	is.True(ok)

	// every writer's field landed on the same instance
	for i := 0; i < writers; i++ {
		is.Equal(shot.Get(fmt.Sprintf("field_%d", i), nil), i)
	}

	sequence, ok := s.Cached("Sequence", 2)
	is.True(ok)
	is.Equal(len(sequence.Backrefs("Shot", "sequence")), 1)
	is.Equal(s.Size(), 2)
}

func TestResolveOnClosedSessionReportsDetached(t *testing.T) {
	is := is.New(t)
	s := newTestSession()
	s.Close()

	e, err := s.Resolve("Shot", 1)
	is.True(errors.Is(err, recorderrors.ErrDetachedEntity))
	is.True(e == nil)
	is.Equal(s.Size(), 0)
}

func TestMergeUnrollsLinkedRecords(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	task, err := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{"type": "Shot", "id": 2, "code": "AA_001"},
	})
	is.NoErr(err)

	shot, ok := s.Cached("Shot", 2)
	is.True(ok)
	is.Equal(shot.Get("code", nil), "AA_001")

	linked, ok := task.Get("entity", nil).(*Entity)
	is.True(ok)
	is.True(linked == shot)

	backrefs := shot.Backrefs("Task", "entity")
	is.Equal(len(backrefs), 1)
	is.True(backrefs[0] == task)
}

func TestMergeUnrollsListsOfLinks(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	_, err := s.MergeOne(record.RawRecord{
		"type": "Version", "id": 7,
		"tasks": []any{
			map[string]any{"type": "Task", "id": 1},
			map[string]any{"type": "Task", "id": 2},
		},
	})
	is.NoErr(err)

	task, ok := s.Cached("Task", 2)
	is.True(ok)
	is.Equal(len(task.Backrefs("Version", "tasks")), 1)
}

func TestMergeFoldsDeepDottedFields(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	task, err := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity.Shot.id":   2,
		"entity.Shot.code": "AA_001",
	})
	is.NoErr(err)

	// folded into the linked entity
	shot, ok := s.Cached("Shot", 2)
	is.True(ok)
	is.Equal(shot.Get("code", nil), "AA_001")

	linked, ok := task.Get("entity", nil).(*Entity)
	is.True(ok)
	is.True(linked == shot)

	// and still visible under the dotted key
	code, err := task.Field("entity.Shot.code")
	is.NoErr(err)
	is.Equal(code, "AA_001")
}

func TestMergeAnchorsDeepFieldsOnCachedLink(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	task, err := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{"type": "Shot", "id": 2},
	})
	is.NoErr(err)

	// a later row without an explicit link id must still hit Shot:2
	_, err = s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity.Shot.code": "AA_001",
	})
	is.NoErr(err)

	linked, _ := task.Get("entity", nil).(*Entity)
	is.Equal(linked.ID(), int64(2))
	is.Equal(linked.Get("code", nil), "AA_001")
}

func TestMergeKeepsEntityLinkWhenRowAddsDeepFields(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	shot, err := s.MergeOne(record.RawRecord{"type": "Shot", "id": 2})
	is.NoErr(err)

	// a row can carry the link as an already resolved entity next to
	// dotted fields for the same link
	task, err := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity":           shot,
		"entity.Shot.code": "AA_001",
	})
	is.NoErr(err)

	linked, _ := task.Get("entity", nil).(*Entity)
	is.True(linked == shot)
	is.Equal(shot.Get("code", nil), "AA_001")
	is.Equal(s.Size(), 2)
}

func TestMergeIsIdempotent(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	row := record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{"type": "Shot", "id": 2, "code": "AA_001"},
	}

	task, err := s.MergeOne(row)
	is.NoErr(err)

	again, err := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{"type": "Shot", "id": 2, "code": "AA_001"},
	})
	is.NoErr(err)

	is.True(task == again)
	is.Equal(s.Size(), 2)

	shot, _ := s.Cached("Shot", 2)
	is.Equal(len(shot.Backrefs("Task", "entity")), 1)
}

func TestMergeReassignedLinkPrunesBackref(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	_, err := s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{"type": "Shot", "id": 2},
	})
	is.NoErr(err)

	_, err = s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{"type": "Shot", "id": 3},
	})
	is.NoErr(err)

	oldShot, _ := s.Cached("Shot", 2)
	is.Equal(len(oldShot.Backrefs("Task", "entity")), 0)

	newShot, _ := s.Cached("Shot", 3)
	is.Equal(len(newShot.Backrefs("Task", "entity")), 1)
}

func TestMergeRejectsRecordWithoutType(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	_, err := s.MergeOne(record.RawRecord{"id": 1, "code": "AA_001"})
	is.True(errors.Is(err, recorderrors.ErrInvalidRecord))

	_, err = s.MergeOne(record.RawRecord{
		"type": "Task", "id": 1,
		"entity": map[string]any{"id": 2},
	})
	is.True(errors.Is(err, recorderrors.ErrInvalidRecord))
}

func TestMergeKeepsEarlierRecordsWhenOneFails(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	merged, err := s.Merge(
		record.RawRecord{"type": "Shot", "id": 1, "code": "AA_001"},
		record.RawRecord{"id": 2},
		record.RawRecord{"type": "Shot", "id": 3},
	)

	is.True(errors.Is(err, recorderrors.ErrInvalidRecord))
	is.Equal(len(merged), 1)

	_, ok := s.Cached("Shot", 1)
	is.True(ok)
	_, ok = s.Cached("Shot", 3)
	is.True(!ok)
}

func TestMergeTypeWithoutIDCreatesUnsavedEntity(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	e, err := s.MergeOne(record.RawRecord{"type": "Task", "content": "animate tree"})
	is.NoErr(err)

	is.True(!e.Saved())
	is.Equal(e.ID(), int64(0))
	is.Equal(e.Get("content", nil), "animate tree")

	// unsaved entities never occupy a registry slot
	is.Equal(s.Size(), 0)
}

func TestMergeRejectsEntitiesFromOtherSessions(t *testing.T) {
	is := is.New(t)

	other := newTestSession()
	stranger, err := other.Resolve("Shot", 1)
	is.NoErr(err)

	s := newTestSession()
	_, err = s.MergeOne(record.RawRecord{"type": "Task", "id": 1, "entity": stranger})

	is.True(errors.Is(err, recorderrors.ErrNotOwned))
}

func TestMergeSurvivesCyclicInput(t *testing.T) {
	is := is.New(t)
	s := newTestSession()

	task := map[string]any{"type": "Task", "id": 1}
	shot := map[string]any{"type": "Shot", "id": 2}
	task["entity"] = shot
	shot["current_task"] = task

	merged, err := s.MergeOne(record.RawRecord(task))
	is.NoErr(err)

	linked, _ := merged.Get("entity", nil).(*Entity)
	back, _ := linked.Get("current_task", nil).(*Entity)
	is.True(back == merged)
}
