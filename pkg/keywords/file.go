package keywords

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/project-archbot/archbot/pkg/types"
)

// ErrKeywordsNotFound means the ebuild has no KEYWORDS assignment to edit.
var ErrKeywordsNotFound = errors.New("no KEYWORDS variable found")

var (
	keywordsRegex = regexp.MustCompile(`^([^#]*\bKEYWORDS=)(.*)$`)
	copyrightRegex = regexp.MustCompile(
		`^(.*\bCopyright )((?:[0-9]{4}-)?)([0-9]{4})( Gentoo (?:Foundation|Authors)\b)(.*)$`)
)

// for testing
var nowYear = func() int { return time.Now().UTC().Year() }

// UpdateKeywords merges new keywords into an existing KEYWORDS list.
// Stable keywords replace ~arch forms, both replace -arch forms, and ~arch
// never downgrades an existing stable keyword. Returns nil when nothing
// changes.
func UpdateKeywords(existing []string, add []string, stable bool) []string {
	kw := map[string]bool{}
	for _, k := range existing {
		kw[k] = true
	}
	for _, k := range add {
		if stable {
			kw[k] = true
		} else {
			kw["~"+k] = true
		}
	}
	snapshot := make([]string, 0, len(kw))
	for k := range kw {
		snapshot = append(snapshot, k)
	}
	for _, k := range snapshot {
		bare := strings.TrimPrefix(k, "~")
		delete(kw, "-"+bare)
		if !strings.HasPrefix(k, "~") {
			delete(kw, "~"+k)
		}
	}

	if len(kw) == len(existing) {
		same := true
		for _, k := range existing {
			if !kw[k] {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}
	out := make([]string, 0, len(kw))
	for k := range kw {
		out = append(out, k)
	}
	SortKeywords(out)
	return out
}

// UpdateCopyright refreshes the year range and owner on a Gentoo copyright
// line, leaving anything else untouched.
func UpdateCopyright(line string) string {
	m := copyrightRegex.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	pre, y1, y2, owner, post := m[1], m[2], m[3], m[4], m[5]
	year := fmt.Sprintf("%d", nowYear())
	if y1 == "" && y2 != year {
		y1 = y2 + "-"
	}
	y2 = year
	if owner == " Gentoo Foundation" {
		owner = " Gentoo Authors"
	}
	return pre + y1 + y2 + owner + post
}

// UpdateKeywordsInFile rewrites the KEYWORDS assignment in the ebuild at
// path, adding the given keywords as stable or ~arch, and refreshes the
// copyright header. The file is replaced atomically.
func UpdateKeywordsInFile(path string, kws []string, stable bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")

	found := false
	for i, line := range lines {
		m := keywordsRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pre, rest := m[1], m[2]

		// split off the quoting by hand; the quote character must
		// match on both ends
		var kwStr, post string
		if strings.HasPrefix(rest, `"`) || strings.HasPrefix(rest, `'`) {
			quote := rest[:1]
			end := strings.Index(rest[1:], quote)
			if end < 0 {
				continue
			}
			pre += quote
			kwStr = rest[1 : 1+end]
			post = rest[1+end:]
		} else {
			kwStr = rest
		}

		found = true
		updated := UpdateKeywords(strings.Fields(kwStr), kws, stable)
		if updated == nil {
			return nil
		}
		newKw := strings.Join(updated, " ")
		if pre == m[1] {
			// add quotes if there were none before
			newKw = `"` + newKw + `"`
		}
		lines[i] = pre + newKw + post
		break
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrKeywordsNotFound, path)
	}

	lines[0] = UpdateCopyright(lines[0])
	return atomic.WriteFile(path, strings.NewReader(strings.Join(lines, "\n")))
}

// AddKeywords applies the resolved keyword assignments to the ebuilds on
// disk.
func AddKeywords(list []types.PackageKeywords, stable bool) error {
	for _, pk := range list {
		if len(pk.Keywords) == 0 {
			continue
		}
		if err := UpdateKeywordsInFile(pk.Pkg.Path, pk.Keywords, stable); err != nil {
			return fmt.Errorf("updating %s: %w", pk.Pkg.CPV(), err)
		}
	}
	return nil
}
