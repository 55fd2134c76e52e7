// Package bugzilla talks to the Gentoo Bugzilla REST API and maps its
// duck-typed bug records onto the fixed types.Bug form.
package bugzilla

import (
	"sort"
	"strings"

	"github.com/project-archbot/archbot/pkg/types"
)

// DefaultEndpoint is the Gentoo Bugzilla REST endpoint.
const DefaultEndpoint = "https://bugs.gentoo.org/rest"

// MaxCommentLen is Bugzilla's comment size limit; longer comments are
// truncated before posting.
const MaxCommentLen = 16384

// CategoryFromComponent maps the tracker component onto a bug category.
// Anything that is neither a keywording nor a stabilization component is
// Skip.
func CategoryFromComponent(component string) types.Category {
	switch component {
	case "Keywording":
		return types.Keywordreq
	case "Stabilization", "Vulnerabilities":
		return types.Stablereq
	}
	return types.Skip
}

// CategoryComponents is the reverse mapping, used for tracker searches.
func CategoryComponents(cat types.Category) []string {
	switch cat {
	case types.Keywordreq:
		return []string{"Keywording"}
	case types.Stablereq:
		return []string{"Stabilization", "Vulnerabilities"}
	}
	return nil
}

// ArchesFromCC extracts architecture identifiers from the bug CC list.
// Arch team entries have the form <arch>@gentoo.org; anything not naming a
// known arch is ignored. The result is sorted.
func ArchesFromCC(cc []string, knownArches []string) []string {
	known := make(map[string]bool, len(knownArches))
	for _, a := range knownArches {
		known[a] = true
	}
	var arches []string
	for _, addr := range cc {
		name, domain, ok := strings.Cut(addr, "@")
		if !ok || domain != "gentoo.org" {
			continue
		}
		if known[name] {
			arches = append(arches, name)
		}
	}
	sort.Strings(arches)
	return arches
}

// ArchesToCC renders arch identifiers back into CC addresses.
func ArchesToCC(arches []string) []string {
	cc := make([]string, 0, len(arches))
	for _, a := range arches {
		cc = append(cc, a+"@gentoo.org")
	}
	sort.Strings(cc)
	return cc
}
