package repo

import (
	"errors"

	"github.com/project-archbot/archbot/pkg/types"
)

// ErrNoMatch is returned by Match when no version satisfies the atom.
var ErrNoMatch = errors.New("no matching package version")

// Repository is the package repository contract the engine consumes. Match
// returns every known version satisfying the atom in ascending version
// order; the ordering semantics belong to the repository, not the engine.
type Repository interface {
	Match(a *Atom) ([]*types.Package, error)
	KnownArches() []string
	// Location is the repository root on disk, empty for repositories
	// without a filesystem representation.
	Location() string
}

// Siblings returns all known versions of the same package, used by the
// keyword alignment token.
func Siblings(r Repository, pkg *types.Package) ([]*types.Package, error) {
	return r.Match(&Atom{Category: pkg.Category, Name: pkg.Name})
}
