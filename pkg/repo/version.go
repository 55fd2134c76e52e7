package repo

import (
	"regexp"
	"strconv"
	"strings"
)

// versionRegex matches a valid ebuild version: numeric components, an
// optional single letter, optional _alpha/_beta/_pre/_rc/_p suffixes and an
// optional -rN revision.
var versionRegex = regexp.MustCompile(
	`^(\d+)((?:\.\d+)*)([a-z]?)((?:_(?:alpha|beta|pre|rc|p)\d*)*)(?:-r(\d+))?$`)

// IsValidVersion reports whether s is a well-formed ebuild version string.
func IsValidVersion(s string) bool {
	return versionRegex.MatchString(s)
}

var suffixOrder = map[string]int{
	"alpha": -4,
	"beta":  -3,
	"pre":   -2,
	"rc":    -1,
	"p":     1,
}

type parsedVersion struct {
	numbers  []string
	letter   byte
	suffixes [][2]int64 // (suffix rank, suffix number)
	revision int64
}

func parseVersion(s string) (parsedVersion, bool) {
	m := versionRegex.FindStringSubmatch(s)
	if m == nil {
		return parsedVersion{}, false
	}
	v := parsedVersion{numbers: []string{m[1]}}
	if m[2] != "" {
		v.numbers = append(v.numbers, strings.Split(m[2][1:], ".")...)
	}
	if m[3] != "" {
		v.letter = m[3][0]
	}
	for _, s := range strings.Split(m[4], "_") {
		if s == "" {
			continue
		}
		name := strings.TrimRight(s, "0123456789")
		num := int64(0)
		if rest := s[len(name):]; rest != "" {
			num, _ = strconv.ParseInt(rest, 10, 64)
		}
		v.suffixes = append(v.suffixes, [2]int64{int64(suffixOrder[name]), num})
	}
	if m[5] != "" {
		v.revision, _ = strconv.ParseInt(m[5], 10, 64)
	}
	return v, true
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// CompareVersions orders two ebuild versions following the PMS version
// comparison algorithm. It returns -1, 0 or 1. Malformed versions compare
// as plain strings, so sorting never panics on bad input.
func CompareVersions(a, b string) int {
	va, oka := parseVersion(a)
	vb, okb := parseVersion(b)
	if !oka || !okb {
		return strings.Compare(a, b)
	}

	// first numeric component compares as an integer
	ia, _ := strconv.ParseInt(va.numbers[0], 10, 64)
	ib, _ := strconv.ParseInt(vb.numbers[0], 10, 64)
	if c := cmpInt(ia, ib); c != 0 {
		return c
	}

	// later components: integer compare unless either side has a leading
	// zero, in which case they compare as strings with trailing zeros
	// stripped (so 1.01 < 1.1 but 1.2 == 1.2)
	for i := 1; i < len(va.numbers) || i < len(vb.numbers); i++ {
		if i >= len(va.numbers) {
			return -1
		}
		if i >= len(vb.numbers) {
			return 1
		}
		ca, cb := va.numbers[i], vb.numbers[i]
		if strings.HasPrefix(ca, "0") || strings.HasPrefix(cb, "0") {
			sa := strings.TrimRight(ca, "0")
			sb := strings.TrimRight(cb, "0")
			if c := strings.Compare(sa, sb); c != 0 {
				return c
			}
			continue
		}
		na, _ := strconv.ParseInt(ca, 10, 64)
		nb, _ := strconv.ParseInt(cb, 10, 64)
		if c := cmpInt(na, nb); c != 0 {
			return c
		}
	}

	if c := cmpInt(int64(va.letter), int64(vb.letter)); c != 0 {
		return c
	}

	for i := 0; i < len(va.suffixes) || i < len(vb.suffixes); i++ {
		// a missing suffix ranks as the zero suffix: above _rc, below _p
		sa, sb := [2]int64{0, 0}, [2]int64{0, 0}
		if i < len(va.suffixes) {
			sa = va.suffixes[i]
		}
		if i < len(vb.suffixes) {
			sb = vb.suffixes[i]
		}
		if c := cmpInt(sa[0], sb[0]); c != 0 {
			return c
		}
		if c := cmpInt(sa[1], sb[1]); c != 0 {
			return c
		}
	}

	return cmpInt(va.revision, vb.revision)
}
