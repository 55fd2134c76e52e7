// Package keywords implements the keyword algebra: tilde normalization,
// the copy-previous and align-to-siblings tokens, CC inference and the
// ALLARCHES rules.
package keywords

import (
	"sort"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

// SortKey orders keywords by OS suffix first, then arch name, so that e.g.
// amd64 sorts before x86 and both sort before amd64-linux.
func SortKey(kw string) string {
	kw = strings.TrimLeft(kw, "-~")
	arch, os, _ := strings.Cut(kw, "-")
	return os + "\x00" + arch
}

// SortKeywords sorts keywords in place using SortKey.
func SortKeywords(kws []string) {
	sort.Slice(kws, func(i, j int) bool {
		return SortKey(kws[i]) < SortKey(kws[j])
	})
}

// FilterPrefixArches drops prefix arches (those with an OS suffix, like
// amd64-linux) which are never keyworded through arch testing.
func FilterPrefixArches(kws []string) []string {
	var out []string
	for _, k := range kws {
		if !strings.Contains(k, "-") {
			out = append(out, k)
		}
	}
	return out
}

// Suggested computes the alignment (`*`) keywords for pkg. For
// stabilization the result is the stable keywords present on sibling
// versions, limited to arches where pkg itself is ~arch; for keywording it
// is every keyword present on any sibling, minus keywords pkg already has
// or disables. The result is sorted.
func Suggested(r repo.Repository, pkg *types.Package, stable bool) ([]string, error) {
	siblings, err := repo.Siblings(r, pkg)
	if err != nil {
		return nil, err
	}

	disallow := "-"
	if stable {
		disallow = "-~"
	}
	match := map[string]bool{}
	for _, sib := range siblings {
		for _, kw := range sib.Keywords {
			if kw == "" || strings.ContainsAny(kw[:1], disallow) {
				continue
			}
			match[strings.TrimPrefix(kw, "~")] = true
		}
	}

	if stable {
		// limit to whatever is ~arch on this version right now
		testing := map[string]bool{}
		for _, kw := range pkg.Keywords {
			if strings.HasPrefix(kw, "~") {
				testing[strings.TrimPrefix(kw, "~")] = true
			}
		}
		for kw := range match {
			if !testing[kw] {
				delete(match, kw)
			}
		}
	} else {
		// strip keywords already present or explicitly disabled
		for _, kw := range pkg.Keywords {
			delete(match, strings.TrimLeft(kw, "~-"))
		}
	}

	out := FilterPrefixArches(maps.Keys(match))
	SortKeywords(out)
	return out, nil
}

// MaskedKeywords returns the requested keywords that the package disables
// outright (-arch or -*). Requesting those can never succeed.
func MaskedKeywords(pkg *types.Package, kws []string) []string {
	masked := map[string]bool{}
	for _, kw := range pkg.Keywords {
		switch {
		case kw == "-*":
			for _, k := range kws {
				masked[k] = true
			}
		case strings.HasPrefix(kw, "-"):
			masked[strings.TrimPrefix(kw, "-")] = true
		default:
			// takes effect after a -* wipe
			delete(masked, strings.TrimPrefix(kw, "~"))
		}
	}
	var out []string
	for _, k := range kws {
		if masked[k] {
			out = append(out, k)
		}
	}
	SortKeywords(out)
	return out
}
