package checker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-archbot/archbot/pkg/types"
)

const nonsolvableLine = `{"__class__": "NonsolvableDepsInStable", "category": "app-misc", "package": "frobnicate", "version": "1.2.3", "attr": "rdepend", "keyword": "amd64", "profile": "default/linux/amd64/23.0", "profile_status": "stable", "profile_deprecated": false, "num_profiles": 3, "deps": ["dev-libs/gadget"]}`

const otherResultLine = `{"__class__": "RedundantVersion", "category": "app-misc", "package": "frobnicate", "version": "1.2.2"}`

func pk(cat, name, ver string, kws ...string) types.PackageKeywords {
	return types.PackageKeywords{
		Pkg:      &types.Package{Category: cat, Name: name, Version: ver},
		Keywords: kws,
	}
}

func stubPkgcheck(t *testing.T, output string, gotArgs *[][]string) {
	t.Helper()
	orig := runCommand
	t.Cleanup(func() { runCommand = orig })
	runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "pkgcheck", name)
		if gotArgs != nil {
			*gotArgs = append(*gotArgs, args)
		}
		return []byte(output), nil
	}
}

func TestCheckSuccess(t *testing.T) {
	var calls [][]string
	stubPkgcheck(t, "", &calls)

	p := &Pkgcheck{RepoPath: "/var/db/repos/gentoo"}
	res, err := p.Check(context.Background(),
		[]types.PackageKeywords{pk("app-misc", "frobnicate", "1.2.3", "amd64", "x86")})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Issues)

	require.Len(t, calls, 1)
	args := strings.Join(calls[0], " ")
	assert.Contains(t, args, "-c VisibilityCheck")
	assert.Contains(t, args, "-p "+DefaultProfiles)
	assert.Contains(t, args, "-a amd64,x86")
	assert.Contains(t, args, "-R JsonStream")
	assert.Contains(t, args, "=app-misc/frobnicate-1.2.3")
}

func TestCheckFailure(t *testing.T) {
	stubPkgcheck(t, nonsolvableLine+"\n"+otherResultLine+"\n", nil)

	p := &Pkgcheck{RepoPath: "/repo"}
	res, err := p.Check(context.Background(),
		[]types.PackageKeywords{pk("app-misc", "frobnicate", "1.2.3", "amd64")})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "app-misc/frobnicate-1.2.3", res.Issues[0].CPV())
	assert.Equal(t, "rdepend", res.Issues[0].Attr)
}

func TestCheckFiltersOtherVersions(t *testing.T) {
	// pkgcheck reports on siblings too; only requested versions count
	stubPkgcheck(t, nonsolvableLine+"\n", nil)

	p := &Pkgcheck{RepoPath: "/repo"}
	res, err := p.Check(context.Background(),
		[]types.PackageKeywords{pk("app-misc", "frobnicate", "1.2.2", "amd64")})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCheckGroupsByKeywords(t *testing.T) {
	var calls [][]string
	stubPkgcheck(t, "", &calls)

	p := &Pkgcheck{RepoPath: "/repo"}
	_, err := p.Check(context.Background(), []types.PackageKeywords{
		pk("app-misc", "frobnicate", "1.2.3", "amd64"),
		pk("app-misc", "gadget", "2.0", "amd64"),
		pk("app-misc", "widget", "1.0", "x86"),
	})
	require.NoError(t, err)
	// consecutive entries sharing a keyword set run in one invocation
	require.Len(t, calls, 2)
	assert.Contains(t, strings.Join(calls[0], " "),
		"=app-misc/frobnicate-1.2.3 =app-misc/gadget-2.0")
	assert.Contains(t, strings.Join(calls[1], " "), "=app-misc/widget-1.0")
}

func TestParseStreamMalformed(t *testing.T) {
	_, err := parseStream([]byte("not json\n"))
	assert.Error(t, err)
}

func TestFormatIssues(t *testing.T) {
	three := 3
	issues := []Issue{
		{
			Category: "app-misc", Package: "frobnicate", Version: "1.2.3",
			Attr: "rdepend", Keyword: "x86", Profile: "default/linux/x86/23.0",
			ProfileStatus: "stable", NumProfiles: &three,
			Deps: []string{"dev-libs/zlib", "dev-libs/gadget"},
		},
		{
			Category: "app-misc", Package: "frobnicate", Version: "1.2.3",
			Attr: "rdepend", Keyword: "amd64", Profile: "default/linux/amd64/23.0",
			ProfileStatus: "dev", ProfileDeprecated: true,
			Deps: []string{"dev-libs/gadget"},
		},
	}

	lines := FormatIssues(issues)
	assert.Equal(t, []string{
		"> app-misc/frobnicate-1.2.3",
		">   rdepend amd64 deprecated dev profile default/linux/amd64/23.0",
		">     dev-libs/gadget",
		">   rdepend x86 stable profile default/linux/x86/23.0 (3 total)",
		">     dev-libs/gadget",
		">     dev-libs/zlib",
	}, lines)
}
