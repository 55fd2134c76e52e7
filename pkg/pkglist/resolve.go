package pkglist

import (
	"errors"
	"fmt"

	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

// ErrNoPackageMatch is returned when a spec matches nothing in the
// repository.
var ErrNoPackageMatch = errors.New("no match for package")

// SelectBest picks the version to operate on from matches sorted in
// ascending version order. The newest version carrying any keywords wins;
// with no keyworded versions, the newest non-live one; failing that, the
// newest overall.
func SelectBest(matches []*types.Package) *types.Package {
	for i := len(matches) - 1; i >= 0; i-- {
		if len(matches[i].Keywords) > 0 {
			return matches[i]
		}
	}
	for i := len(matches) - 1; i >= 0; i-- {
		if !matches[i].Live {
			return matches[i]
		}
	}
	return matches[len(matches)-1]
}

// Resolve binds an entry to one concrete package version. Exact specs must
// match a known version; relaxed specs go through SelectBest.
func Resolve(r repo.Repository, e *Entry) (*types.Package, error) {
	matches, err := r.Match(e.Spec)
	if err != nil || len(matches) == 0 {
		if err == nil || errors.Is(err, repo.ErrNoMatch) {
			return nil, fmt.Errorf("%w: %s", ErrNoPackageMatch, e.RawSpec)
		}
		return nil, err
	}
	if e.Spec.Exact() {
		return matches[0], nil
	}
	return SelectBest(matches), nil
}
