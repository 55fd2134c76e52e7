package types

import (
	"fmt"
	"time"
)

// Category classifies a bug by its product/component on the tracker.
type Category string

const (
	// Keywordreq asks for testing (~arch) keywords.
	Keywordreq Category = "KEYWORDREQ"
	// Stablereq asks for stable keywords.
	Stablereq Category = "STABLEREQ"
	// Skip marks bugs whose component is neither of the above.
	Skip Category = "SKIP"
)

// Stable reports whether keywords for this category are stable-level.
func (c Category) Stable() bool {
	return c == Stablereq
}

// CheckFlag is the tri-state sanity-check flag persisted on a bug.
type CheckFlag int

const (
	FlagUnset CheckFlag = iota
	FlagPass
	FlagFail
)

func (f CheckFlag) String() string {
	switch f {
	case FlagPass:
		return "+"
	case FlagFail:
		return "-"
	}
	return "?"
}

// Verdict is the outcome of a sanity check run for one bug.
type Verdict int

const (
	// VerdictDeferred means keywords could not be determined yet; the bug
	// is left alone apart from resetting the flag.
	VerdictDeferred Verdict = iota
	VerdictPass
	VerdictFail
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictFail:
		return "fail"
	}
	return "deferred"
}

// Bug is the fixed internal record for a tracker ticket. Unknown or missing
// tracker fields are defaulted at the read boundary; nothing loosely typed
// leaks past the bugzilla package.
type Bug struct {
	ID             int
	Category       Category
	Atoms          string // raw package list text
	CC             []string
	Keywords       []string // tracker keywords: ALLARCHES, CC-ARCHES, ...
	Depends        []int
	Blocks         []int
	SanityCheck    CheckFlag
	Security       bool
	Resolved       bool
	AssignedTo     string
	LastChangeTime time.Time
	// LastComment is the most recent automated comment on the bug, used to
	// suppress duplicate failure reports. Empty when none was fetched.
	LastComment string
}

// HasKeyword reports whether the tracker keyword kw is set on the bug.
func (b *Bug) HasKeyword(kw string) bool {
	for _, k := range b.Keywords {
		if k == kw {
			return true
		}
	}
	return false
}

// Package is one concrete ebuild version known to the repository, with the
// metadata the engine needs: declared keywords, the live-version property
// and the stabilize-allarches marker.
type Package struct {
	Category  string
	Name      string
	Version   string
	Keywords  []string
	Live      bool
	AllArches bool
	// Maintainers holds the maintainer addresses from the package's
	// metadata.xml.
	Maintainers []string
	// Path is the ebuild location inside the repository, empty for
	// repositories that do not expose files.
	Path string
}

// Key returns the unversioned category/name key.
func (p *Package) Key() string {
	return p.Category + "/" + p.Name
}

// CPV returns the full category/name-version string.
func (p *Package) CPV() string {
	return fmt.Sprintf("%s/%s-%s", p.Category, p.Name, p.Version)
}

// PackageKeywords binds a resolved package to the keywords it should gain.
type PackageKeywords struct {
	Pkg      *Package
	Keywords []string
}

// BugUpdate is the diff pushed back to the tracker for one bug. Zero-valued
// fields are left untouched on the tracker side.
type BugUpdate struct {
	SanityCheck    *CheckFlag
	Comment        string
	CCAdd          []string
	CCRemove       []string
	KeywordsAdd    []string
	KeywordsRemove []string
	NewPackageList string
	Resolve        bool
}

// Empty reports whether the update would not change anything.
func (u *BugUpdate) Empty() bool {
	return u.SanityCheck == nil && u.Comment == "" &&
		len(u.CCAdd) == 0 && len(u.CCRemove) == 0 &&
		len(u.KeywordsAdd) == 0 && len(u.KeywordsRemove) == 0 &&
		u.NewPackageList == "" && !u.Resolve
}
