package keywords

import (
	"errors"
	"strings"
	"unicode"

	"github.com/project-archbot/archbot/pkg/pkglist"
	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

// ErrExpandImpossible means the list mixes an empty copy-previous
// reference with explicit keywords, which has no sensible expansion.
var ErrExpandImpossible = errors.New("cannot expand package list")

// Expand rewrites the bug's package list with `*` and `^` tokens replaced
// by the keywords they resolve to, preserving comments and whitespace.
// The list must already have passed MatchPackageList.
func Expand(r repo.Repository, bug *types.Bug) (string, error) {
	streq := bug.Category.Stable()
	var out strings.Builder
	var prevKw []string

	lines := strings.SplitAfter(bug.Atoms, "\n")
	for _, line := range lines {
		var pkg *types.Package
		var curKw []string
		hadEmptyAbove := false
		tokens := splitKeepSpace(line)

		for ti, w := range tokens {
			if strings.HasPrefix(w, "#") {
				// copy the comment and the rest of the line
				out.WriteString(strings.Join(tokens[ti:], ""))
				break
			}
			switch {
			case strings.TrimSpace(w) != "" && pkg == nil:
				entries, err := pkglist.Parse(w, bug.Category)
				if err != nil {
					return "", err
				}
				if len(entries) != 1 {
					return "", ErrExpandImpossible
				}
				pkg, err = pkglist.Resolve(r, entries[0])
				if err != nil {
					return "", err
				}
				curKw = []string{}
			case w == "*":
				suggested, err := Suggested(r, pkg, streq)
				if err != nil {
					return "", err
				}
				if len(suggested) > 0 {
					w = strings.Join(suggested, " ")
				} else {
					w = "-"
				}
			case w == "^":
				if prevKw == nil {
					return "", ErrExpandImpossible
				}
				if len(prevKw) == 0 {
					if len(curKw) > 1 {
						return "", errors.Join(ErrExpandImpossible,
							errors.New("keywords along with empty ^"))
					}
					hadEmptyAbove = true
				}
				w = strings.Join(prevKw, " ")
			}
			// collect keywords for the next ^ occurrence
			if pkg != nil && strings.TrimSpace(w) != "" {
				if hadEmptyAbove {
					return "", errors.Join(ErrExpandImpossible,
						errors.New("keywords along with empty ^"))
				}
				curKw = append(curKw, w)
			}
			out.WriteString(w)
		}
		if curKw != nil {
			// first element is the package spec itself
			prevKw = curKw[1:]
		}
	}

	return out.String(), nil
}

// splitKeepSpace splits a line into alternating runs of non-space and
// space characters, preserving every byte.
func splitKeepSpace(s string) []string {
	var tokens []string
	start := 0
	inSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if i > 0 && space != inSpace {
			tokens = append(tokens, s[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(s) {
		tokens = append(tokens, s[start:])
	}
	return tokens
}
