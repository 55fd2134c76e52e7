package keywords

import (
	"errors"
	"sort"
	"strings"

	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

// Merge folds other into dest. Stable keywords upgrade ~arch ones already
// present for the same package; duplicates collapse.
func Merge(dest []types.PackageKeywords, other []types.PackageKeywords) []types.PackageKeywords {
	idx := map[string]int{}
	for i, pk := range dest {
		idx[pk.Pkg.CPV()] = i
	}
	for _, pk := range other {
		i, ok := idx[pk.Pkg.CPV()]
		if !ok {
			dest = append(dest, types.PackageKeywords{Pkg: pk.Pkg})
			i = len(dest) - 1
			idx[pk.Pkg.CPV()] = i
		}
		kws := dest[i].Keywords
		for _, k := range pk.Keywords {
			for j := index(kws, "~"+k); j >= 0; j = index(kws, "~"+k) {
				kws = append(kws[:j], kws[j+1:]...)
			}
			if index(kws, k) < 0 {
				kws = append(kws, k)
			}
		}
		dest[i].Keywords = kws
	}
	return dest
}

// Render produces the canonical one-line-per-package rendering of a
// resolved list, also used as the cache fingerprint payload.
func Render(list []types.PackageKeywords) string {
	var b strings.Builder
	sorted := append([]types.PackageKeywords{}, list...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Pkg.CPV() < sorted[j].Pkg.CPV()
	})
	for _, pk := range sorted {
		kws := append([]string{}, pk.Keywords...)
		SortKeywords(kws)
		b.WriteString(pk.Pkg.CPV())
		for _, k := range kws {
			b.WriteString(" ")
			b.WriteString(k)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// AllArches reports whether every package in the list carries the
// stabilize-allarches metadata marker. The ALLARCHES tracker keyword is
// recomputed from this on every pass, so a package losing the marker also
// drops the keyword.
func AllArches(list []types.PackageKeywords) bool {
	if len(list) == 0 {
		return false
	}
	for _, pk := range list {
		if !pk.Pkg.AllArches {
			return false
		}
	}
	return true
}

// CanAllArches verifies that every requested keyword already has at least
// one stable version somewhere, which is what ALLARCHES stabilization
// relies on.
func CanAllArches(r repo.Repository, list []types.PackageKeywords) (bool, error) {
	for _, pk := range list {
		left := map[string]bool{}
		for _, k := range pk.Keywords {
			left[k] = true
		}
		siblings, err := repo.Siblings(r, pk.Pkg)
		if err != nil {
			return false, err
		}
		for _, sib := range siblings {
			// ~arch and -arch keywords just will not match
			for _, k := range sib.Keywords {
				delete(left, k)
			}
		}
		if len(left) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// ErrInconsistent means the list's entries do not agree on one keyword set,
// so CC-ARCHES inference cannot pick the teams to CC.
var ErrInconsistent = errors.New("packages have inconsistent keywords")

// InferCCArches derives the arch set for a CC-ARCHES bug from the resolved
// list: every entry must agree on one non-empty (potential) keyword set.
// Entries with no keywords fall back to their alignment keywords. On
// success the undetermined entries in list are filled in.
func InferCCArches(r repo.Repository, bug *types.Bug, list []types.PackageKeywords) ([]string, error) {
	var ref []string
	for i, pk := range list {
		kws := pk.Keywords
		if len(kws) == 0 {
			var err error
			kws, err = Suggested(r, pk.Pkg, bug.Category.Stable())
			if err != nil {
				return nil, err
			}
		}
		if len(kws) == 0 {
			return nil, ErrInconsistent
		}
		sorted := append([]string{}, kws...)
		SortKeywords(sorted)
		if ref == nil {
			ref = sorted
		} else if strings.Join(ref, " ") != strings.Join(sorted, " ") {
			return nil, ErrInconsistent
		}
		list[i].Keywords = sorted
	}
	if ref == nil {
		return nil, ErrInconsistent
	}
	return ref, nil
}
