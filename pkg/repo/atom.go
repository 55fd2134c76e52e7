package repo

import (
	"fmt"
	"regexp"
	"strings"
)

// Errors returned by ParseAtom for specs the engine refuses to process.
// Blockers, USE-conditionals and slot operators are never valid in package
// lists regardless of the bug category.
var (
	ErrMalformedAtom = fmt.Errorf("malformed atom")
	ErrBlocker       = fmt.Errorf("blocker atoms not allowed")
	ErrUseDep        = fmt.Errorf("USE dependencies not allowed")
	ErrSlotOperator  = fmt.Errorf("slot operators not allowed")
)

var (
	categoryRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9+_.-]*$`)
	nameRegex     = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9+_-]*$`)
)

// Atom is a parsed package dependency specification. Op is one of "", "=",
// "<", "<=", ">", ">=", "~"; Version is set whenever Op is non-empty.
// Wildcard marks the =cat/pn-1.2* prefix-match form.
type Atom struct {
	Op       string
	Category string
	Name     string
	Version  string
	Wildcard bool
	Slot     string
}

// Versioned reports whether the atom pins a version range or exact version.
func (a *Atom) Versioned() bool {
	return a.Op != ""
}

// Exact reports whether the atom names one concrete version.
func (a *Atom) Exact() bool {
	return a.Op == "=" && !a.Wildcard
}

// Key returns the unversioned category/name key.
func (a *Atom) Key() string {
	return a.Category + "/" + a.Name
}

func (a *Atom) String() string {
	s := a.Op + a.Key()
	if a.Version != "" {
		s += "-" + a.Version
	}
	if a.Wildcard {
		s += "*"
	}
	if a.Slot != "" {
		s += ":" + a.Slot
	}
	return s
}

// ParseAtom parses a dependency specification. It accepts bare cat/pn
// atoms, the =, <, <=, >, >= and ~ operators and an optional :slot suffix.
// Blockers, USE-conditional brackets and slot operators yield dedicated
// errors so callers can report them precisely.
func ParseAtom(s string) (*Atom, error) {
	orig := s
	if strings.HasPrefix(s, "!") {
		return nil, fmt.Errorf("%w: %s", ErrBlocker, orig)
	}
	if strings.Contains(s, "[") {
		return nil, fmt.Errorf("%w: %s", ErrUseDep, orig)
	}

	a := &Atom{}
	for _, op := range []string{"<=", ">=", "<", ">", "~", "="} {
		if strings.HasPrefix(s, op) {
			a.Op = op
			s = s[len(op):]
			break
		}
	}

	if i := strings.IndexByte(s, ':'); i >= 0 {
		slot := s[i+1:]
		if slot == "=" || slot == "*" || strings.HasSuffix(slot, "=") {
			return nil, fmt.Errorf("%w: %s", ErrSlotOperator, orig)
		}
		if slot == "" {
			return nil, fmt.Errorf("%w: empty slot in %s", ErrMalformedAtom, orig)
		}
		a.Slot = slot
		s = s[:i]
	}

	if a.Op == "=" && strings.HasSuffix(s, "*") {
		a.Wildcard = true
		s = strings.TrimSuffix(s, "*")
	}

	slash := strings.IndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return nil, fmt.Errorf("%w: %s", ErrMalformedAtom, orig)
	}
	a.Category = s[:slash]
	rest := s[slash+1:]

	if a.Versioned() {
		// the version starts at the last hyphen that begins a valid
		// version (one more for -rN revisions)
		cut := -1
		for i := len(rest) - 1; i > 0; i-- {
			if rest[i] != '-' {
				continue
			}
			if IsValidVersion(rest[i+1:]) {
				cut = i
			}
		}
		if cut <= 0 {
			return nil, fmt.Errorf("%w: missing version in %s",
				ErrMalformedAtom, orig)
		}
		a.Name = rest[:cut]
		a.Version = rest[cut+1:]
	} else {
		a.Name = rest
		if strings.ContainsAny(a.Name, ".") ||
			hasVersionSuffix(a.Name) {
			return nil, fmt.Errorf("%w: unversioned atom with version: %s",
				ErrMalformedAtom, orig)
		}
	}

	if !categoryRegex.MatchString(a.Category) || !nameRegex.MatchString(a.Name) {
		return nil, fmt.Errorf("%w: %s", ErrMalformedAtom, orig)
	}
	return a, nil
}

// hasVersionSuffix detects cat/pn-1.2 style names that slipped through
// without an operator; those are invalid per the atom grammar.
func hasVersionSuffix(name string) bool {
	i := strings.LastIndexByte(name, '-')
	return i > 0 && IsValidVersion(name[i+1:])
}

// MatchVersion reports whether a package version satisfies the atom.
func (a *Atom) MatchVersion(ver string) bool {
	if !a.Versioned() {
		return true
	}
	if a.Wildcard {
		return ver == a.Version || strings.HasPrefix(ver, a.Version)
	}
	c := CompareVersions(ver, a.Version)
	switch a.Op {
	case "=":
		return c == 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	case "~":
		// same version ignoring revision
		return CompareVersions(stripRevision(ver),
			stripRevision(a.Version)) == 0
	}
	return false
}

func stripRevision(ver string) string {
	if i := strings.LastIndex(ver, "-r"); i > 0 {
		if IsValidVersion(ver[:i]) {
			return ver[:i]
		}
	}
	return ver
}
