package pkglist

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

func TestParseKeywordreq(t *testing.T) {
	text := `app-misc/frobnicate amd64 x86
# a full-line comment
=dev-python/pytest-7.4.0 ^  # trailing comment
<app-misc/gadget-2 *

~app-misc/widget-1.0
`
	entries, err := Parse(text, types.Keywordreq)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "app-misc/frobnicate", entries[0].RawSpec)
	assert.Equal(t, []string{"amd64", "x86"}, entries[0].Tokens)
	assert.Equal(t, 0, entries[0].Index)

	assert.Equal(t, "=dev-python/pytest-7.4.0", entries[1].RawSpec)
	assert.Equal(t, []string{"^"}, entries[1].Tokens)

	assert.Equal(t, "<app-misc/gadget-2", entries[2].RawSpec)
	assert.Equal(t, []string{"*"}, entries[2].Tokens)

	assert.Equal(t, "~app-misc/widget-1.0", entries[3].RawSpec)
	assert.Empty(t, entries[3].Tokens)
}

func TestParseBareVersionedSpec(t *testing.T) {
	// bugs commonly carry cat/pn-1.2.3 without the = sign
	entries, err := Parse("app-misc/frobnicate-1.2.3 amd64", types.Stablereq)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Spec.Exact())
	assert.Equal(t, "1.2.3", entries[0].Spec.Version)
}

func TestParseStablereqRejectsRanges(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"bare", "app-misc/frobnicate"},
		{"range", "<app-misc/frobnicate-2"},
		{"wildcard", "=app-misc/frobnicate-1.2*"},
		{"tilde", "~app-misc/frobnicate-1.2.3"},
		{"slotted", "=app-misc/frobnicate-1.2.3:2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.spec+" amd64", types.Stablereq)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotExact)
		})
	}
}

func TestParseRejectsInvalidSpecs(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr error
	}{
		{"blocker", "!app-misc/frobnicate", repo.ErrBlocker},
		{"use dep", "app-misc/frobnicate[foo]", repo.ErrUseDep},
		{"slot operator", "app-misc/frobnicate:=", repo.ErrSlotOperator},
		{"garbage", "frobnicate", repo.ErrMalformedAtom},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.spec, types.Keywordreq)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			var lerr *LineError
			assert.ErrorAs(t, err, &lerr)
		})
	}
}

func TestParseReportsAllBadLines(t *testing.T) {
	text := "!app-misc/one\napp-misc/good amd64\nbad\n"
	_, err := Parse(text, types.Keywordreq)
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.ErrBlocker)
	assert.ErrorIs(t, err, repo.ErrMalformedAtom)
}

// fakeRepo serves a fixed package set for resolver tests.
type fakeRepo struct {
	pkgs map[string][]*types.Package
}

func (f *fakeRepo) Match(a *repo.Atom) ([]*types.Package, error) {
	var out []*types.Package
	for _, p := range f.pkgs[a.Key()] {
		if a.MatchVersion(p.Version) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, repo.ErrNoMatch
	}
	sort.Slice(out, func(i, j int) bool {
		return repo.CompareVersions(out[i].Version, out[j].Version) < 0
	})
	return out, nil
}

func (f *fakeRepo) KnownArches() []string {
	return []string{"amd64", "arm64", "hppa", "x86"}
}

func (f *fakeRepo) Location() string { return "/fake" }

func pkg(cpv string, keywords []string, live bool) *types.Package {
	a, err := repo.ParseAtom("=" + cpv)
	if err != nil {
		panic(err)
	}
	return &types.Package{
		Category: a.Category,
		Name:     a.Name,
		Version:  a.Version,
		Keywords: keywords,
		Live:     live,
	}
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name    string
		matches []*types.Package
		want    string
	}{
		{
			name: "newest keyworded wins",
			matches: []*types.Package{
				pkg("a/b-1.0", []string{"amd64"}, false),
				pkg("a/b-2.0", []string{"~amd64"}, false),
				pkg("a/b-3.0", nil, false),
			},
			want: "2.0",
		},
		{
			name: "newest non-live when nothing keyworded",
			matches: []*types.Package{
				pkg("a/b-1.0", nil, false),
				pkg("a/b-2.0", nil, false),
				pkg("a/b-9999", nil, true),
			},
			want: "2.0",
		},
		{
			name: "live as last resort",
			matches: []*types.Package{
				pkg("a/b-9999", nil, true),
			},
			want: "9999",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SelectBest(tc.matches).Version)
		})
	}
}

func TestResolve(t *testing.T) {
	r := &fakeRepo{pkgs: map[string][]*types.Package{
		"app-misc/frobnicate": {
			pkg("app-misc/frobnicate-1.2.2", []string{"amd64"}, false),
			pkg("app-misc/frobnicate-1.2.3", []string{"~amd64"}, false),
			pkg("app-misc/frobnicate-9999", nil, true),
		},
	}}

	entries, err := Parse("=app-misc/frobnicate-1.2.2", types.Stablereq)
	require.NoError(t, err)
	got, err := Resolve(r, entries[0])
	require.NoError(t, err)
	assert.Equal(t, "1.2.2", got.Version)

	entries, err = Parse("app-misc/frobnicate", types.Keywordreq)
	require.NoError(t, err)
	got, err = Resolve(r, entries[0])
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", got.Version)

	entries, err = Parse("=app-misc/frobnicate-4.0", types.Stablereq)
	require.NoError(t, err)
	_, err = Resolve(r, entries[0])
	assert.ErrorIs(t, err, ErrNoPackageMatch)
}
