package cli

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/project-archbot/archbot/pkg/bugzilla"
	"github.com/project-archbot/archbot/pkg/cache"
	"github.com/project-archbot/archbot/pkg/checker"
	"github.com/project-archbot/archbot/pkg/gitutils"
	"github.com/project-archbot/archbot/pkg/sanity"
	"github.com/project-archbot/archbot/pkg/types"
)

// skipTag in the status whiteboard excludes a bug from automated passes.
const skipTag = "archbot:skip"

var sanityCheckCmd = &cobra.Command{
	Use:   "sanity-check [bug...]",
	Short: "Check open keywording/stabilization bugs and update their flags",
	Long: `Fetch the given bugs (or search for all open keywording and
stabilization requests), resolve their package lists against the
repository, run pkgcheck over the would-be keyword changes and set the
sanity-check flag accordingly. Without --update-bugs the pass only
reports what it would do.`,
	RunE: runSanityCheck,
}

var sanityCheckOpts struct {
	updateBugs    bool
	bugLimit      int
	timeLimit     time.Duration
	cacheFile     string
	cacheMaxAge   time.Duration
	noDeps        bool
	ignoreDeps    bool
	keywordreq    bool
	stablereq     bool
	searchLimit   int
	pkgcheckProfs string
}

func init() {
	f := sanityCheckCmd.Flags()
	f.BoolVar(&sanityCheckOpts.updateBugs, "update-bugs", false,
		"push results to the tracker (default: pretend)")
	f.IntVar(&sanityCheckOpts.bugLimit, "bug-limit", 0,
		"stop after checking this many bugs (0: unlimited)")
	f.DurationVar(&sanityCheckOpts.timeLimit, "time-limit", 0,
		"stop after this much wall-clock time (0: unlimited)")
	f.StringVar(&sanityCheckOpts.cacheFile, "cache-file", "",
		"cache directory for check results (empty: no cache)")
	f.DurationVar(&sanityCheckOpts.cacheMaxAge, "cache-max-age",
		cache.DefaultMaxAge, "how long cached results stay valid")
	f.BoolVar(&sanityCheckOpts.noDeps, "no-fetch-dependencies", false,
		"do not fetch bugs referenced via depends_on/blocks")
	f.BoolVar(&sanityCheckOpts.ignoreDeps, "ignore-dependencies", false,
		"check bugs even when their dependencies are unresolved")
	f.BoolVar(&sanityCheckOpts.keywordreq, "keywordreq", false,
		"search keywording requests only")
	f.BoolVar(&sanityCheckOpts.stablereq, "stablereq", false,
		"search stabilization requests only")
	f.IntVar(&sanityCheckOpts.searchLimit, "search-limit", 0,
		"limit tracker search results (0: tracker default)")
	f.StringVar(&sanityCheckOpts.pkgcheckProfs, "profiles",
		checker.DefaultProfiles, "profile selector passed to pkgcheck")
	rootCmd.AddCommand(sanityCheckCmd)
}

func runSanityCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, err := openRepo()
	if err != nil {
		return err
	}
	client := newClient()

	bugs, explicit, err := fetchBugs(cmd, client, args)
	if err != nil {
		return err
	}
	if len(bugs) == 0 {
		log.Info("no bugs to process")
		return nil
	}
	if !sanityCheckOpts.noDeps {
		if bugs, err = bugzilla.ResolveDependencies(ctx, client, bugs); err != nil {
			return fmt.Errorf("fetching dependency bugs: %w", err)
		}
	}

	git, err := gitutils.Open(r.Location())
	if err != nil {
		return fmt.Errorf("repository must be a git checkout: %w", err)
	}
	store := cache.Open(sanityCheckOpts.cacheFile)
	defer store.Close()

	chk := &sanity.Checker{
		Repo:    r,
		Tracker: client,
		Check: &checker.Pkgcheck{
			RepoPath: r.Location(),
			Profiles: sanityCheckOpts.pkgcheckProfs,
		},
		Cache: store,
		Git:   git,
		Opts: sanity.Options{
			UpdateBugs:         sanityCheckOpts.updateBugs,
			BugLimit:           sanityCheckOpts.bugLimit,
			TimeLimit:          sanityCheckOpts.timeLimit,
			CacheMaxAge:        sanityCheckOpts.cacheMaxAge,
			IgnoreDependencies: sanityCheckOpts.ignoreDeps,
		},
	}

	// explicitly named bugs run in the given order; searches run
	// oldest-first
	bugnos := explicit
	if bugnos == nil {
		bugnos = sortedIDs(bugs)
	}
	stats, err := chk.Run(ctx, bugnos, bugs)
	if stats != nil {
		log.Infof("done: %d processed, %d skipped, %d deferred, %d checked",
			stats.Processed, stats.Skipped, stats.Deferred, stats.Checked)
	}
	return err
}

// fetchBugs loads the bugs named on the command line, or searches the
// tracker when none are given. The second return value preserves the
// explicit argument order, nil for searches.
func fetchBugs(cmd *cobra.Command, client bugzilla.Client, args []string) (map[int]*types.Bug, []int, error) {
	ctx := cmd.Context()
	if len(args) > 0 {
		ids, err := parseBugArgs(args)
		if err != nil {
			return nil, nil, err
		}
		bugs, err := client.FetchBugs(ctx, ids)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range ids {
			if _, ok := bugs[id]; !ok {
				return nil, nil, fmt.Errorf("bug %d not found", id)
			}
		}
		return bugs, ids, nil
	}

	var cats []types.Category
	if sanityCheckOpts.keywordreq {
		cats = append(cats, types.Keywordreq)
	}
	if sanityCheckOpts.stablereq {
		cats = append(cats, types.Stablereq)
	}
	bugs, err := client.FindBugs(ctx, bugzilla.Search{
		Categories: cats,
		SkipTag:    skipTag,
		Limit:      sanityCheckOpts.searchLimit,
	})
	return bugs, nil, err
}
