package keywords

import (
	"errors"
	"fmt"
	"strings"

	"github.com/project-archbot/archbot/pkg/bugzilla"
	"github.com/project-archbot/archbot/pkg/pkglist"
	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

// Errors raised while matching a package list. ErrDoneAlready and
// ErrNoMatchArch both unwrap to ErrListEmpty: the list resolved to nothing
// actionable and the check is deferred rather than failed.
var (
	ErrListEmpty   = errors.New("empty package list")
	ErrDoneAlready = fmt.Errorf("%w: all packages keyworded already", ErrListEmpty)
	ErrNoMatchArch = fmt.Errorf("%w: no packages match requested arch", ErrListEmpty)

	// ErrNoneLeft means keywords were left unspecified and alignment
	// yields nothing either; there is probably no work left to do.
	ErrNoneLeft = errors.New("package keywords in line with other versions and none specified")

	// ErrFirstCopy rejects the copy-previous token on the first entry.
	ErrFirstCopy = errors.New("invalid use of ^ keyword on first line")
)

// UnknownKeywordError reports tokens that name no known architecture.
type UnknownKeywordError struct {
	Keywords []string
}

func (e *UnknownKeywordError) Error() string {
	return "incorrect keywords: " + strings.Join(e.Keywords, " ")
}

// NotSpecifiedError means some entries ended up with no keywords and no CC
// to infer them from. The partial result is still returned alongside it so
// the CC-ARCHES path can recover.
type NotSpecifiedError struct {
	Pkgs []string
}

func (e *NotSpecifiedError) Error() string {
	return "incomplete keywords for packages: " + strings.Join(e.Pkgs, " ")
}

// Options tune MatchPackageList.
type Options struct {
	// OnlyNew drops keywords the package already carries.
	OnlyNew bool
	// FilterArch restricts the result to the given arches.
	FilterArch []string
	// PermitAllArches extends stabilization entries on ALLARCHES bugs
	// with their alignment keywords even when FilterArch would drop them.
	PermitAllArches bool
}

// MatchPackageList resolves the bug's package list into per-package keyword
// assignments. Entries whose keywords cannot be determined are returned
// with a nil keyword list together with a NotSpecifiedError or ErrNoneLeft;
// other errors invalidate the whole list.
func MatchPackageList(r repo.Repository, bug *types.Bug, opts Options) ([]types.PackageKeywords, error) {
	entries, err := pkglist.Parse(bug.Atoms, bug.Category)
	if err != nil {
		return nil, err
	}

	streq := bug.Category.Stable()
	ccArches := bugzilla.ArchesFromCC(bug.CC, r.KnownArches())
	validArches := map[string]bool{}
	for _, a := range r.KnownArches() {
		validArches[a] = true
	}
	filterArch := map[string]bool{}
	for _, a := range opts.FilterArch {
		filterArch[a] = true
	}

	var (
		out              []types.PackageKeywords
		prevKeywords     []string
		noKeywords       []string
		noPotential      []string
		keywordedAlready bool
		filtered         bool
		yielded          bool
	)

	for _, e := range entries {
		pkg, err := pkglist.Resolve(r, e)
		if err != nil {
			return nil, err
		}

		kws := make([]string, 0, len(e.Tokens))
		skip := false
		for _, t := range e.Tokens {
			t = strings.TrimPrefix(strings.TrimSpace(t), "~")
			if t == "-" {
				skip = true
				break
			}
			kws = append(kws, t)
		}
		if skip {
			continue
		}

		if idx := index(kws, "*"); idx >= 0 {
			suggested, err := Suggested(r, pkg, streq)
			if err != nil {
				return nil, err
			}
			kws = append(suggested, remove(kws, "*")...)
		}
		if idx := index(kws, "^"); idx >= 0 {
			if prevKeywords == nil {
				return nil, ErrFirstCopy
			}
			kws = append(append([]string{}, prevKeywords...),
				remove(kws, "^")...)
		}
		kws = dedup(kws)

		var unknown []string
		for _, k := range kws {
			if !validArches[k] {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			return nil, &UnknownKeywordError{Keywords: unknown}
		}

		if len(kws) == 0 {
			kws = append([]string{}, ccArches...)
		} else if len(ccArches) > 0 {
			kws = intersect(kws, ccArches)
			// no longer relevant to the CC-ed arches
			if len(kws) == 0 {
				continue
			}
		}

		if len(kws) == 0 {
			// no explicit keywords and no CC to infer from; the
			// list stays undetermined for this entry
			suggested, err := Suggested(r, pkg, streq)
			if err != nil {
				return nil, err
			}
			if len(suggested) == 0 {
				noPotential = append(noPotential, e.RawSpec)
			} else {
				noKeywords = append(noKeywords, e.RawSpec)
			}
			out = append(out, types.PackageKeywords{Pkg: pkg})
			continue
		}
		prevKeywords = kws

		var allarchesKw []string
		if opts.PermitAllArches && streq && bug.HasKeyword("ALLARCHES") {
			// the requested arches may be disjoint with the
			// ALLARCHES candidates, so filtering still applies
			allarchesKw, err = Suggested(r, pkg, true)
			if err != nil {
				return nil, err
			}
		}

		if opts.OnlyNew {
			kws = newOnly(kws, pkg, streq)
			if len(kws) == 0 {
				keywordedAlready = true
				continue
			}
		}

		if len(filterArch) > 0 {
			var kept []string
			for _, k := range kws {
				if filterArch[k] {
					kept = append(kept, k)
				}
			}
			for _, k := range allarchesKw {
				if index(kept, k) < 0 {
					kept = append(kept, k)
				}
			}
			if len(kept) == 0 {
				filtered = true
				continue
			}
			kws = kept
		}

		out = append(out, types.PackageKeywords{Pkg: pkg, Keywords: kws})
		yielded = true
	}

	switch {
	case len(noKeywords) > 0:
		return out, &NotSpecifiedError{Pkgs: noKeywords}
	case len(noPotential) > 0:
		// only report "none left" when nothing else was resolved;
		// otherwise the bug is still interesting
		if !yielded {
			return out, ErrNoneLeft
		}
		return out, &NotSpecifiedError{Pkgs: noPotential}
	case !yielded:
		if filtered {
			return nil, ErrNoMatchArch
		}
		if keywordedAlready {
			return nil, ErrDoneAlready
		}
		return nil, ErrListEmpty
	}
	return out, nil
}

// newOnly drops keywords the package already carries; for keywording both
// the stable and the ~arch form count as present.
func newOnly(kws []string, pkg *types.Package, streq bool) []string {
	present := map[string]bool{}
	for _, k := range pkg.Keywords {
		present[k] = true
	}
	var out []string
	for _, k := range kws {
		if present[k] {
			continue
		}
		if !streq && present["~"+k] {
			continue
		}
		out = append(out, k)
	}
	return out
}

func index(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func remove(s []string, v string) []string {
	var out []string
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func intersect(s, allowed []string) []string {
	set := map[string]bool{}
	for _, a := range allowed {
		set[a] = true
	}
	var out []string
	for _, x := range s {
		if set[x] {
			out = append(out, x)
		}
	}
	return out
}

func dedup(s []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, x := range s {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}
