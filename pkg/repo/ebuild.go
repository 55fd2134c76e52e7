package repo

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/project-archbot/archbot/pkg/types"
)

// EbuildRepository reads package metadata from an ebuild tree with a
// generated md5-cache (metadata/md5-cache/<cat>/<pn>-<ver>). The cache
// format is a flat KEY=VALUE file per version, which spares us sourcing
// ebuilds.
type EbuildRepository struct {
	root   string
	arches []string
	pkgs   map[string][]*types.Package // keyed by cat/pn
}

// OpenEbuildRepository validates root as an ebuild repository and loads the
// known arches list from profiles/arch.list.
func OpenEbuildRepository(root string) (*EbuildRepository, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(root, "metadata", "md5-cache")); err != nil {
		return nil, fmt.Errorf("no md5-cache under %s (generate it with egencache): %w",
			root, err)
	}
	arches, err := readArchList(filepath.Join(root, "profiles", "arch.list"))
	if err != nil {
		return nil, fmt.Errorf("reading arch.list: %w", err)
	}
	return &EbuildRepository{
		root:   root,
		arches: arches,
		pkgs:   make(map[string][]*types.Package),
	}, nil
}

func readArchList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var arches []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		arches = append(arches, line)
	}
	return arches, nil
}

func (r *EbuildRepository) KnownArches() []string {
	return r.arches
}

func (r *EbuildRepository) Location() string {
	return r.root
}

// Match returns all versions of the atom's package satisfying it, sorted
// ascending per CompareVersions.
func (r *EbuildRepository) Match(a *Atom) ([]*types.Package, error) {
	all, err := r.loadPackage(a.Category, a.Name)
	if err != nil {
		return nil, err
	}
	var out []*types.Package
	for _, p := range all {
		if a.MatchVersion(p.Version) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, a)
	}
	return out, nil
}

func (r *EbuildRepository) loadPackage(cat, name string) ([]*types.Package, error) {
	key := cat + "/" + name
	if pkgs, ok := r.pkgs[key]; ok {
		return pkgs, nil
	}

	dir := filepath.Join(r.root, "metadata", "md5-cache", cat)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.pkgs[key] = nil
			return nil, nil
		}
		return nil, err
	}

	allarches, maintainers, err := r.readMetadata(cat, name)
	if err != nil {
		return nil, err
	}

	var pkgs []*types.Package
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), name+"-") {
			continue
		}
		ver := strings.TrimPrefix(e.Name(), name+"-")
		if !IsValidVersion(ver) {
			// a different package sharing the prefix, e.g. foo-bar
			// next to foo
			continue
		}
		md, err := readCacheFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		pkg := &types.Package{
			Category:    cat,
			Name:        name,
			Version:     ver,
			Keywords:    strings.Fields(md["KEYWORDS"]),
			Live:        hasField(md["PROPERTIES"], "live"),
			Maintainers: maintainers,
			Path: filepath.Join(r.root, cat, name,
				fmt.Sprintf("%s-%s.ebuild", name, ver)),
		}
		pkg.AllArches, err = matchAllArches(allarches, pkg)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		return CompareVersions(pkgs[i].Version, pkgs[j].Version) < 0
	})
	r.pkgs[key] = pkgs
	return pkgs, nil
}

func readCacheFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	md := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			md[k] = v
		}
	}
	return md, nil
}

func hasField(s, field string) bool {
	for _, f := range strings.Fields(s) {
		if f == field {
			return true
		}
	}
	return false
}

// pkgMetadata is the subset of metadata.xml the engine cares about.
type pkgMetadata struct {
	XMLName     xml.Name `xml:"pkgmetadata"`
	Maintainers []struct {
		Email string `xml:"email"`
	} `xml:"maintainer"`
	AllArches []struct {
		Restrict string `xml:"restrict,attr"`
	} `xml:"stabilize-allarches"`
}

// readMetadata parses the package's metadata.xml stabilize-allarches
// markers and maintainer addresses. A missing metadata.xml simply means
// neither.
func (r *EbuildRepository) readMetadata(cat, name string) ([]string, []string, error) {
	path := filepath.Join(r.root, cat, name, "metadata.xml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var md pkgMetadata
	if err := xml.Unmarshal(data, &md); err != nil {
		return nil, nil, fmt.Errorf("malformed %s: %w", path, err)
	}
	var restricts []string
	for _, a := range md.AllArches {
		restricts = append(restricts, a.Restrict)
	}
	if len(restricts) > 0 {
		log.Debugf("%s/%s: stabilize-allarches present", cat, name)
	}
	var maintainers []string
	for _, m := range md.Maintainers {
		if addr := strings.TrimSpace(m.Email); addr != "" {
			maintainers = append(maintainers, addr)
		}
	}
	return restricts, maintainers, nil
}

// matchAllArches evaluates stabilize-allarches markers against one version.
// An empty restrict applies to every version.
func matchAllArches(restricts []string, pkg *types.Package) (bool, error) {
	for _, restrict := range restricts {
		if restrict == "" {
			return true, nil
		}
		a, err := ParseAtom(restrict)
		if err != nil {
			return false, fmt.Errorf("invalid restrict %q on %s: %w",
				restrict, pkg.CPV(), err)
		}
		if a.Key() != pkg.Key() {
			return false, fmt.Errorf("restrict %q refers to wrong package (in %s)",
				restrict, pkg.CPV())
		}
		if a.MatchVersion(pkg.Version) {
			return true, nil
		}
	}
	return false, nil
}
