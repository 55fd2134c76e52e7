package keywords

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/project-archbot/archbot/pkg/types"
)

func TestSortKeywords(t *testing.T) {
	kws := []string{"x86", "amd64-linux", "~arm64", "amd64", "x64-macos"}
	SortKeywords(kws)
	assert.Equal(t,
		[]string{"amd64", "~arm64", "x86", "amd64-linux", "x64-macos"}, kws)
}

func TestFilterPrefixArches(t *testing.T) {
	assert.Equal(t, []string{"amd64", "x86"},
		FilterPrefixArches([]string{"amd64", "amd64-linux", "x86", "x64-macos"}))
	assert.Empty(t, FilterPrefixArches([]string{"amd64-linux"}))
}

func TestMaskedKeywords(t *testing.T) {
	tests := []struct {
		name     string
		pkgKws   []string
		request  []string
		want     []string
	}{
		{
			name:    "no masks",
			pkgKws:  []string{"~amd64", "~x86"},
			request: []string{"amd64", "x86"},
			want:    nil,
		},
		{
			name:    "single arch mask",
			pkgKws:  []string{"~amd64", "-hppa"},
			request: []string{"amd64", "hppa"},
			want:    []string{"hppa"},
		},
		{
			name:    "star wipe",
			pkgKws:  []string{"-*", "~amd64"},
			request: []string{"amd64", "x86"},
			want:    []string{"x86"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &types.Package{Category: "a", Name: "b", Version: "1",
				Keywords: tc.pkgKws}
			assert.Equal(t, tc.want, MaskedKeywords(p, tc.request))
		})
	}
}

func TestSuggestedFiltersPrefixArches(t *testing.T) {
	r := &fakeRepo{pkgs: map[string][]*types.Package{
		"app-misc/frobnicate": {
			pkg("app-misc", "frobnicate", "1.0", "amd64", "amd64-linux"),
			pkg("app-misc", "frobnicate", "2.0", "~amd64", "~amd64-linux"),
		},
	}}
	got, err := Suggested(r, r.pkgs["app-misc/frobnicate"][1], true)
	assert.NoError(t, err)
	assert.Equal(t, []string{"amd64"}, got)
}
