package cli

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/project-archbot/archbot/pkg/bugzilla"
	"github.com/project-archbot/archbot/pkg/depgraph"
	"github.com/project-archbot/archbot/pkg/keywords"
	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply bug...",
	Short: "Write the keywords requested by bugs into the local repository",
	Long: `Resolve the package lists of the given bugs and add the requested
keywords to the ebuilds in the local checkout, restricted to the chosen
arches. Bugs that failed the sanity check or have unresolved
dependencies are skipped unless overridden.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApply,
}

var applyOpts struct {
	arches            []string
	ignoreAllArches   bool
	ignoreDeps        bool
	ignoreSanityCheck bool
	noUpdate          bool
}

func init() {
	f := applyCmd.Flags()
	f.StringSliceVarP(&applyOpts.arches, "arch", "a", nil,
		"arches to apply, repeatable (default: all CC-ed arches)")
	f.BoolVar(&applyOpts.ignoreAllArches, "ignore-allarches", false,
		"apply only the requested arches even on ALLARCHES bugs")
	f.BoolVar(&applyOpts.ignoreDeps, "ignore-dependencies", false,
		"apply bugs whose dependencies are unresolved")
	f.BoolVar(&applyOpts.ignoreSanityCheck, "ignore-sanity-check", false,
		"apply bugs without a passing sanity-check flag")
	f.BoolVarP(&applyOpts.noUpdate, "no-update", "n", false,
		"only print the package list, do not touch the checkout")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, err := openRepo()
	if err != nil {
		return err
	}
	client := newClient()

	ids, err := parseBugArgs(args)
	if err != nil {
		return err
	}
	bugs, err := client.FetchBugs(ctx, ids)
	if err != nil {
		return err
	}
	bugs, err = bugzilla.ResolveDependencies(ctx, client, bugs)
	if err != nil {
		return err
	}

	for _, id := range ids {
		bug, ok := bugs[id]
		if !ok {
			return fmt.Errorf("bug %d not found", id)
		}
		plist, allarches, err := resolveForApply(r, bugs, id,
			applyOpts.arches, applyOpts.ignoreAllArches,
			applyOpts.ignoreDeps, applyOpts.ignoreSanityCheck)
		if err != nil {
			log.Warnf("bug %d: %v", id, err)
			continue
		}

		fmt.Printf("# bug %d (%s)\n", id, strings.ToLower(string(bug.Category)))
		if allarches {
			fmt.Println("# ALLARCHES")
		}
		for _, pk := range plist {
			kws := append([]string{}, pk.Keywords...)
			keywords.SortKeywords(kws)
			fmt.Printf("=%s %s\n", pk.Pkg.CPV(), strings.Join(kws, " "))
		}
		if !applyOpts.noUpdate {
			if err := keywords.AddKeywords(plist, bug.Category.Stable()); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveForApply resolves one bug's package list the way apply and commit
// consume it: gated on the sanity-check flag and the dependency graph,
// filtered to the requested arches, ALLARCHES extended unless disabled.
func resolveForApply(r repo.Repository, bugs map[int]*types.Bug, id int,
	arches []string, ignoreAllArches, ignoreDeps, ignoreSanityCheck bool) ([]types.PackageKeywords, bool, error) {
	bug := bugs[id]
	if bug.Category == types.Skip {
		return nil, false, fmt.Errorf("neither stablereq nor keywordreq")
	}
	if !ignoreSanityCheck && bug.SanityCheck != types.FlagPass {
		return nil, false, fmt.Errorf("sanity check did not pass")
	}
	if !ignoreDeps {
		if _, blocking := depgraph.Split(bugs, id); len(blocking) > 0 {
			return nil, false, fmt.Errorf("unresolved dependency on %v", blocking)
		}
	}

	filter, err := applyArches(r, bug, arches)
	if err != nil {
		return nil, false, err
	}
	allarches := !ignoreAllArches && bug.HasKeyword("ALLARCHES")

	plist, err := keywords.MatchPackageList(r, bug, keywords.Options{
		OnlyNew:         true,
		FilterArch:      filter,
		PermitAllArches: allarches,
	})
	if err != nil {
		return nil, false, err
	}
	return plist, allarches, nil
}

// applyArches picks the arch filter: the explicit flags validated against
// the known arches, or everything CC-ed on the bug.
func applyArches(r repo.Repository, bug *types.Bug, arches []string) ([]string, error) {
	known := r.KnownArches()
	if len(arches) == 0 {
		cced := bugzilla.ArchesFromCC(bug.CC, known)
		if len(cced) == 0 {
			return nil, fmt.Errorf("no arches CC-ed and none requested")
		}
		return cced, nil
	}
	knownSet := map[string]bool{}
	for _, a := range known {
		knownSet[a] = true
	}
	for _, a := range arches {
		if !knownSet[a] {
			return nil, fmt.Errorf("unknown arch: %s", a)
		}
	}
	return arches, nil
}
