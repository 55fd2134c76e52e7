package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/project-archbot/archbot/pkg/bugzilla"
	"github.com/project-archbot/archbot/pkg/gitutils"
	"github.com/project-archbot/archbot/pkg/keywords"
	"github.com/project-archbot/archbot/pkg/types"
)

var commitCmd = &cobra.Command{
	Use:   "commit bug...",
	Short: "Commit applied keyword changes, one commit per package",
	Long: `Commit the keyword changes previously written by apply, one commit
per package with the conventional Gentoo message, e.g.
"app-misc/frobnicate: Stabilize 1.2.3 amd64 x86, #123456".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommit,
}

var commitOpts struct {
	arches            []string
	ignoreAllArches   bool
	ignoreDeps        bool
	ignoreSanityCheck bool
}

func init() {
	f := commitCmd.Flags()
	f.StringSliceVarP(&commitOpts.arches, "arch", "a", nil,
		"arches that were applied, repeatable (default: all CC-ed arches)")
	f.BoolVar(&commitOpts.ignoreAllArches, "ignore-allarches", false,
		"treat ALLARCHES bugs as arch-specific")
	f.BoolVar(&commitOpts.ignoreDeps, "ignore-dependencies", false,
		"commit bugs whose dependencies are unresolved")
	f.BoolVar(&commitOpts.ignoreSanityCheck, "ignore-sanity-check", false,
		"commit bugs without a passing sanity-check flag")
	rootCmd.AddCommand(commitCmd)
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, err := openRepo()
	if err != nil {
		return err
	}
	git, err := gitutils.Open(r.Location())
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
			commitOpts.arches, commitOpts.ignoreAllArches,
			commitOpts.ignoreDeps, commitOpts.ignoreSanityCheck)
		if err != nil {
			log.Warnf("bug %d: %v", id, err)
			continue
		}

		for _, pk := range plist {
			if len(pk.Keywords) == 0 {
				continue
			}
			msg := commitMessage(bug, pk, allarches)
			file, err := filepath.Rel(git.Path(), pk.Pkg.Path)
			if err != nil {
				return fmt.Errorf("ebuild outside the checkout: %w", err)
			}
			hash, err := git.Commit(msg, []string{file}, nil)
			if errors.Is(err, gitutils.ErrNoChanges) {
				log.Infof("%s: nothing to commit", pk.Pkg.CPV())
				continue
			}
			if err != nil {
				return fmt.Errorf("committing %s: %w", pk.Pkg.CPV(), err)
			}
			log.Infof("%s: committed %.12s", pk.Pkg.CPV(), hash)
		}
	}
	return nil
}

// commitMessage renders the conventional Gentoo commit message for one
// package's keyword change.
func commitMessage(bug *types.Bug, pk types.PackageKeywords, allarches bool) string {
	verb := "Keyword"
	if bug.Category.Stable() {
		verb = "Stabilize"
	}
	kws := append([]string{}, pk.Keywords...)
	keywords.SortKeywords(kws)
	archPart := strings.Join(kws, " ")
	if allarches {
		archPart = "ALLARCHES"
	}
	return fmt.Sprintf("%s: %s %s %s, #%d",
		pk.Pkg.Key(), verb, pk.Pkg.Version, archPart, bug.ID)
}
