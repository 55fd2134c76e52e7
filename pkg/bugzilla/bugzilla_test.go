package bugzilla

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/project-archbot/archbot/pkg/types"
)

func TestCategoryFromComponent(t *testing.T) {
	tests := []struct {
		component string
		want      types.Category
	}{
		{"Keywording", types.Keywordreq},
		{"Stabilization", types.Stablereq},
		{"Vulnerabilities", types.Stablereq},
		{"Current packages", types.Skip},
		{"", types.Skip},
	}
	for _, tc := range tests {
		t.Run(tc.component, func(t *testing.T) {
			assert.Equal(t, tc.want, CategoryFromComponent(tc.component))
		})
	}
}

func TestArchesFromCC(t *testing.T) {
	known := []string{"amd64", "arm64", "hppa", "x86"}
	tests := []struct {
		name string
		cc   []string
		want []string
	}{
		{
			name: "arch teams sorted",
			cc:   []string{"x86@gentoo.org", "amd64@gentoo.org"},
			want: []string{"amd64", "x86"},
		},
		{
			name: "non-arch addresses ignored",
			cc: []string{"amd64@gentoo.org", "maintainer@gentoo.org",
				"someone@example.com", "hppa@example.com"},
			want: []string{"amd64"},
		},
		{
			name: "no arches",
			cc:   []string{"maintainer@gentoo.org"},
			want: nil,
		},
		{name: "empty", cc: nil, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ArchesFromCC(tc.cc, known))
		})
	}
}

func TestArchesToCC(t *testing.T) {
	assert.Equal(t, []string{"amd64@gentoo.org", "x86@gentoo.org"},
		ArchesToCC([]string{"x86", "amd64"}))
}
