// Package checker runs the external correctness check (pkgcheck's
// visibility scan) over resolved package/keyword assignments and renders
// its findings for tracker comments.
package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/project-archbot/archbot/pkg/types"
)

// Issue is one dependency-visibility finding for a package/keyword pair.
type Issue struct {
	Category          string   `json:"category"`
	Package           string   `json:"package"`
	Version           string   `json:"version"`
	Attr              string   `json:"attr"`
	Keyword           string   `json:"keyword"`
	Profile           string   `json:"profile"`
	ProfileStatus     string   `json:"profile_status"`
	ProfileDeprecated bool     `json:"profile_deprecated"`
	NumProfiles       *int     `json:"num_profiles"`
	Deps              []string `json:"deps"`
}

// CPV returns the full package string the issue refers to.
func (i *Issue) CPV() string {
	return fmt.Sprintf("%s/%s-%s", i.Category, i.Package, i.Version)
}

// Result is the verdict of one check invocation.
type Result struct {
	Success bool
	Issues  []Issue
}

// Checker is the correctness-check collaborator contract.
type Checker interface {
	Check(ctx context.Context, list []types.PackageKeywords) (*Result, error)
}

// Pkgcheck invokes the pkgcheck tool against a repository on disk.
type Pkgcheck struct {
	RepoPath string
	// Profiles is passed through as the profile selector, pkgcheck's -p.
	Profiles string
}

// DefaultProfiles matches what arch testing checks against.
const DefaultProfiles = "stable,dev"

// for testing
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("%s failed: %v: %s", name, err,
			strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Check scans each group of packages sharing a keyword set. Results are
// filtered back to the requested versions since pkgcheck may report
// against siblings as well.
func (p *Pkgcheck) Check(ctx context.Context, list []types.PackageKeywords) (*Result, error) {
	profiles := p.Profiles
	if profiles == "" {
		profiles = DefaultProfiles
	}
	res := &Result{Success: true}

	for _, group := range groupByKeywords(list) {
		var atoms []string
		requested := map[string]bool{}
		for _, pk := range group {
			atom := "=" + pk.Pkg.CPV()
			atoms = append(atoms, atom)
			requested[atom] = true
		}
		args := append([]string{
			"scan",
			"-c", "VisibilityCheck",
			"-p", profiles,
			"-a", strings.Join(group[0].Keywords, ","),
			"-r", p.RepoPath,
			"-R", "JsonStream",
		}, atoms...)
		log.Debugf("running pkgcheck %s", strings.Join(args, " "))

		out, err := runCommand(ctx, "pkgcheck", args...)
		if err != nil {
			return nil, err
		}
		issues, err := parseStream(out)
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			// pkgcheck can report all versions of a package; keep
			// only the ones we asked about
			if !requested["="+issue.CPV()] {
				continue
			}
			res.Success = false
			res.Issues = append(res.Issues, issue)
		}
	}
	return res, nil
}

// groupByKeywords batches consecutive entries sharing one keyword set, so
// each pkgcheck run gets a single -a value.
func groupByKeywords(list []types.PackageKeywords) [][]types.PackageKeywords {
	var groups [][]types.PackageKeywords
	for _, pk := range list {
		n := len(groups)
		if n > 0 && sameKeywords(groups[n-1][0].Keywords, pk.Keywords) {
			groups[n-1] = append(groups[n-1], pk)
			continue
		}
		groups = append(groups, []types.PackageKeywords{pk})
	}
	return groups
}

func sameKeywords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// streamRecord is the subset of pkgcheck's JsonStream objects we consume.
type streamRecord struct {
	Class string `json:"__class__"`
	Issue
}

// parseStream picks the NonsolvableDeps results out of JsonStream output,
// one JSON object per line.
func parseStream(out []byte) ([]Issue, error) {
	var issues []Issue
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec streamRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("malformed pkgcheck output: %w", err)
		}
		if !strings.HasPrefix(rec.Class, "NonsolvableDeps") {
			continue
		}
		issues = append(issues, rec.Issue)
	}
	return issues, nil
}

// FormatIssues renders issues the way they appear in tracker comments:
// grouped per package version, sorted, quoted with "> ".
func FormatIssues(issues []Issue) []string {
	sorted := append([]Issue{}, issues...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := &sorted[i], &sorted[j]
		ka := strings.Join([]string{a.Category, a.Package, a.Version,
			a.Keyword, a.Attr, a.Profile}, "\x00")
		kb := strings.Join([]string{b.Category, b.Package, b.Version,
			b.Keyword, b.Attr, b.Profile}, "\x00")
		return ka < kb
	})

	var lines []string
	lastCPV := ""
	for _, issue := range sorted {
		if cpv := issue.CPV(); cpv != lastCPV {
			lines = append(lines, "> "+cpv)
			lastCPV = cpv
		}
		status := issue.ProfileStatus
		if issue.ProfileDeprecated {
			status = "deprecated " + status
		}
		total := ""
		if issue.NumProfiles != nil {
			total = fmt.Sprintf(" (%d total)", *issue.NumProfiles)
		}
		lines = append(lines, fmt.Sprintf(">   %s %s %s profile %s%s",
			issue.Attr, issue.Keyword, status, issue.Profile, total))
		deps := append([]string{}, issue.Deps...)
		sort.Strings(deps)
		for _, d := range deps {
			lines = append(lines, ">     "+d)
		}
	}
	return lines
}
