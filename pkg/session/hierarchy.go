package session

import (
	"context"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"golang.org/x/sync/errgroup"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/record/errors"
)

// maxHierarchyRounds bounds the parent resolution loop. A well formed
// hierarchy resolves in a handful of rounds; anything beyond this indicates
// a parent cycle in the remote data.
const maxHierarchyRounds = 20

// FetchHierarchy resolves the full ancestry of the given entities up to
// their roots, in as few round trips as possible: already cached parent
// links are climbed for free, and each round issues at most one batched
// query per distinct entity type, all of them concurrently.
//
// Entities whose parent link is null are treated as the root of their own
// branch. The returned slice holds every entity visited, starting entities
// included, in discovery order.
func (s *Session) FetchHierarchy(ctx context.Context, entities []*Entity) ([]*Entity, error) {
	var err error

	ctx, span := tracer.Start(ctx, "fetch-hierarchy")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = s.assertOwnership(entities)
	if err != nil {
		return nil, err
	}

	visited := map[*Entity]struct{}{}
	ordered := []*Entity{}

	visit := func(e *Entity) {
		if _, seen := visited[e]; !seen {
			visited[e] = struct{}{}
			ordered = append(ordered, e)
		}
	}

	frontier := []*Entity{}
	for _, e := range entities {
		if e.Saved() {
			frontier = append(frontier, e)
		}
	}

	for round := 0; len(frontier) > 0; round++ {
		if round >= maxHierarchyRounds {
			err = errors.NewBadRequestError("hierarchy resolution did not terminate, parent links form a cycle")
			return nil, err
		}

		// Climb whatever ancestry is already cached; only entities whose
		// parent link has never been fetched need a round trip.
		needByType := map[string][]*Entity{}

		s.mu.RLock()
		for _, e := range frontier {
			cur := e
			for cur != nil {
				visit(cur)

				if s.schema.IsRoot(cur.entityType) {
					break
				}

				parentField, ok := s.schema.ParentField(cur.entityType)
				if !ok || parentField == "" {
					break
				}

				v, fetched := cur.fields[parentField]
				if !fetched {
					needByType[cur.entityType] = append(needByType[cur.entityType], cur)
					break
				}

				parent, _ := v.(*Entity)
				cur = parent
			}
		}
		s.mu.RUnlock()

		if len(needByType) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)

		for entityType, group := range needByType {
			parentField, _ := s.schema.ParentField(entityType)

			g.Go(func() error {
				found, findErr := s.Find(gctx, entityType,
					[]record.Filter{record.In(record.AttributeID, idsOf(group)...)},
					[]string{parentField},
				)
				if findErr != nil {
					return findErr
				}

				if len(found) < len(group) {
					return errors.NewNotFoundError("some entities vanished during hierarchy resolution")
				}

				// A service that omits unset fields instead of returning
				// explicit nulls would otherwise stall the loop.
				s.mu.Lock()
				for _, e := range group {
					if _, fetched := e.fields[parentField]; !fetched {
						e.fields[parentField] = nil
					}
				}
				s.mu.Unlock()

				return nil
			})
		}

		err = g.Wait()
		if err != nil {
			return nil, err
		}

		// The fetched parents extend the cached ancestry, so re-climbing
		// from the entities that just got their parent links picks up
		// exactly the newly reachable part of the tree.
		frontier = frontier[:0]
		for _, group := range needByType {
			frontier = append(frontier, group...)
		}
	}

	return ordered, nil
}
