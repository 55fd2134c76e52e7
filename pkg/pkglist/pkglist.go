// Package pkglist parses the package list carried by a keywording or
// stabilization bug and resolves each entry to one concrete version.
package pkglist

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

var commentRegex = regexp.MustCompile(`(^|\s)#.*$`)

// Entry is one parsed package list line: the dependency specification and
// the raw keyword tokens following it. Index preserves list order for the
// copy-previous token.
type Entry struct {
	Index   int
	Raw     string
	RawSpec string
	Spec    *repo.Atom
	Tokens  []string
}

// LineError describes a single malformed package list line.
type LineError struct {
	Line   string
	Reason error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("invalid package spec: %s: %v", e.Line, e.Reason)
}

func (e *LineError) Unwrap() error {
	return e.Reason
}

var (
	// ErrNotExact rejects range or wildcard specs on stabilization bugs.
	ErrNotExact = errors.New("disallowed package spec (only = allowed)")
)

// Parse turns the raw package list text into ordered entries. Comments and
// blank lines are skipped. Stabilization bugs accept only exact-version
// specs; keywording bugs also accept range and wildcard forms. All bad
// lines are reported, not just the first.
func Parse(text string, cat types.Category) ([]*Entry, error) {
	var entries []*Entry
	var errs *multierror.Error

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(commentRegex.ReplaceAllString(raw, ""))
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		spec, err := parseSpec(fields[0])
		if err != nil {
			errs = multierror.Append(errs,
				&LineError{Line: fields[0], Reason: err})
			continue
		}
		if cat.Stable() && (!spec.Exact() || spec.Slot != "") {
			errs = multierror.Append(errs,
				&LineError{Line: fields[0], Reason: ErrNotExact})
			continue
		}

		entries = append(entries, &Entry{
			Index:   len(entries),
			Raw:     raw,
			RawSpec: fields[0],
			Spec:    spec,
			Tokens:  fields[1:],
		})
	}

	return entries, errs.ErrorOrNil()
}

// parseSpec tries the spec as an exact-version atom first (bare
// cat/pn-1.2.3 lines are the common form on bugs), then as written.
func parseSpec(s string) (*repo.Atom, error) {
	if !strings.HasPrefix(s, "=") {
		if a, err := repo.ParseAtom("=" + s); err == nil {
			return a, nil
		}
	}
	return repo.ParseAtom(s)
}
