// Package depgraph classifies the dependency references between bugs and
// overlays resolved keyword data from same-category dependencies.
package depgraph

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/project-archbot/archbot/pkg/keywords"
	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

// ErrBlocked marks a bug that depends on an unresolved cross-category or
// unfetched bug. Cycles degrade to the same error instead of recursing.
var ErrBlocked = errors.New("blocked by unresolved dependency")

// Split partitions a bug's depends_on references into same-category
// (informational) and blocking ones. Resolved dependencies are dropped
// entirely; references to bugs missing from the map are blocking, since
// their category cannot be known.
func Split(bugs map[int]*types.Bug, id int) (sameCat, blocking []int) {
	bug := bugs[id]
	for _, dep := range bug.Depends {
		depBug, ok := bugs[dep]
		if !ok {
			blocking = append(blocking, dep)
			continue
		}
		if depBug.Resolved {
			continue
		}
		if depBug.Category == bug.Category && bug.Category != types.Skip {
			sameCat = append(sameCat, dep)
		} else {
			blocking = append(blocking, dep)
		}
	}
	return sameCat, blocking
}

// Resolver memoizes per-bug keyword resolution across one batch pass. It
// is not safe for concurrent use; the pass is single-threaded by design.
type Resolver struct {
	repo       repo.Repository
	bugs       map[int]*types.Bug
	memo       map[int][]types.PackageKeywords
	inProgress map[int]bool
}

func NewResolver(r repo.Repository, bugs map[int]*types.Bug) *Resolver {
	return &Resolver{
		repo:       r,
		bugs:       bugs,
		memo:       map[int][]types.PackageKeywords{},
		inProgress: map[int]bool{},
	}
}

// DependentKeywords resolves the same-category dependencies of a bug,
// recursively, and returns their merged keyword assignments as context for
// the bug's own check. A dependency that is already being resolved
// (a reference cycle) contributes nothing rather than recursing.
func (r *Resolver) DependentKeywords(id int) ([]types.PackageKeywords, error) {
	sameCat, _ := Split(r.bugs, id)
	var merged []types.PackageKeywords

	r.inProgress[id] = true
	defer delete(r.inProgress, id)

	for _, dep := range sameCat {
		if r.inProgress[dep] {
			log.Warnf("bug %d: dependency cycle via bug %d", id, dep)
			continue
		}
		list, err := r.resolve(dep)
		if err != nil {
			var notSpec *keywords.NotSpecifiedError
			switch {
			case errors.As(err, &notSpec), errors.Is(err, keywords.ErrNoneLeft):
				return nil, fmt.Errorf(
					"dependent bug #%d is missing keywords", dep)
			case errors.Is(err, keywords.ErrListEmpty):
				// nothing to merge from this one
				continue
			default:
				return nil, fmt.Errorf(
					"dependent bug #%d has errors: %w", dep, err)
			}
		}
		merged = keywords.Merge(merged, list)
	}
	return merged, nil
}

// resolve computes one bug's own keyword assignments plus those of its
// same-category dependencies, memoized.
func (r *Resolver) resolve(id int) ([]types.PackageKeywords, error) {
	if list, ok := r.memo[id]; ok {
		return list, nil
	}
	bug := r.bugs[id]
	own, err := keywords.MatchPackageList(r.repo, bug,
		keywords.Options{OnlyNew: true})
	if err != nil {
		return nil, err
	}
	deps, err := r.DependentKeywords(id)
	if err != nil {
		// a failing dependency of a dependency does not fail the
		// dependent; its own packages were resolved fine
		log.Debugf("bug %d: ignoring transitive dependency error: %v", id, err)
	}
	list := keywords.Merge(own, deps)
	r.memo[id] = list
	return list, nil
}
