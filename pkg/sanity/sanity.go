// Package sanity composes parsing, resolution, the dependency graph and
// the external correctness check into per-bug verdicts, and reconciles
// them with the tracker.
package sanity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/project-archbot/archbot/pkg/bugzilla"
	"github.com/project-archbot/archbot/pkg/cache"
	"github.com/project-archbot/archbot/pkg/checker"
	"github.com/project-archbot/archbot/pkg/depgraph"
	"github.com/project-archbot/archbot/pkg/gitutils"
	"github.com/project-archbot/archbot/pkg/keywords"
	"github.com/project-archbot/archbot/pkg/repo"
	"github.com/project-archbot/archbot/pkg/types"
)

// recentChangeWindow guards against the tracker's race between search
// results and updates: bugs changed this recently are left for the next
// pass.
const recentChangeWindow = time.Minute

// Options tune one batch pass.
type Options struct {
	// UpdateBugs pushes results to the tracker; off means pretend mode.
	UpdateBugs bool
	// BugLimit caps how many bugs are actually run through the external
	// check; 0 means unlimited.
	BugLimit int
	// TimeLimit bounds the pass wall-clock; checked between bugs, never
	// mid-bug. 0 means unlimited.
	TimeLimit time.Duration
	// CacheMaxAge overrides cache.DefaultMaxAge when non-zero.
	CacheMaxAge time.Duration
	// IgnoreDependencies proceeds past unresolved blockers, annotating
	// the diagnostic instead of skipping the bug.
	IgnoreDependencies bool
}

// Stats are the pass counters reported at exit.
type Stats struct {
	Processed int
	Skipped   int
	Deferred  int
	Checked   int
}

// Checker is the sanity-check orchestrator.
type Checker struct {
	Repo    repo.Repository
	Tracker bugzilla.Client
	Check   checker.Checker
	Cache   *cache.Store
	Git     *gitutils.WorkTree
	Opts    Options

	now func() time.Time // for testing
}

func (c *Checker) timeNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Run processes bugs in the given order. Per-bug failures are isolated;
// only a context cancellation stops the pass early.
func (c *Checker) Run(ctx context.Context, bugnos []int, bugs map[int]*types.Bug) (*Stats, error) {
	stats := &Stats{}
	resolver := depgraph.NewResolver(c.Repo, bugs)
	start := c.timeNow()
	var deadline time.Time
	if c.Opts.TimeLimit > 0 {
		deadline = start.Add(c.Opts.TimeLimit)
		log.Infof("will process until %s", deadline.UTC().Format(time.RFC3339))
	}

	for _, id := range bugnos {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		// budgets are checked between bugs only; an in-flight bug
		// always finishes
		if c.Opts.BugLimit > 0 && stats.Checked >= c.Opts.BugLimit {
			log.Infof("reached limit of %d checked bugs", c.Opts.BugLimit)
			break
		}
		if !deadline.IsZero() && c.timeNow().After(deadline) {
			log.Info("reached time limit")
			break
		}

		if err := c.processBug(ctx, resolver, bugs, id, stats); err != nil {
			// collaborator failure: no verdict was reached, so no
			// flag is written; the pass continues
			log.Errorf("bug %d: %v", id, err)
			stats.Skipped++
		}
	}
	return stats, nil
}

// checkOutcome carries a computed verdict before reconciliation.
type checkOutcome struct {
	verdict types.Verdict
	comment string
}

// resolution carries the resolved lists and the CC updates earned while
// resolving. own is the bug's own packages and is what the external
// check inspects; plist additionally holds the packages pulled in from
// same-category dependencies and is what gets applied to the work tree.
type resolution struct {
	own           []types.PackageKeywords
	plist         []types.PackageKeywords
	ccAdd         []string
	ccMaintainers []string
	archesCCed    bool
}

func (c *Checker) processBug(ctx context.Context, resolver *depgraph.Resolver,
	bugs map[int]*types.Bug, id int, stats *Stats) error {
	bug := bugs[id]

	if c.Opts.UpdateBugs && c.timeNow().Sub(bug.LastChangeTime) < recentChangeWindow {
		log.Infof("bug %d: skipping due to recent change", id)
		stats.Skipped++
		return nil
	}
	if bug.Category == types.Skip {
		log.Infof("bug %d: neither stablereq nor keywordreq", id)
		stats.Skipped++
		return nil
	}
	log.Infof("bug %d (%s)", id, bug.Category)

	// cross-category and unfetched references block the bug outright
	_, blocking := depgraph.Split(bugs, id)
	var blockerNote string
	if len(blocking) > 0 {
		if !c.Opts.IgnoreDependencies {
			log.Warnf("bug %d: unresolved dependency on %v, skipping",
				id, blocking)
			stats.Skipped++
			return nil
		}
		blockerNote = fmt.Sprintf(
			"\n\nNote: unresolved dependency on %v was ignored.", blocking)
	}

	// cache gate: an entry still covering the bug skips the check; the
	// SECURITY keyword is still kept up to date
	maxAge := c.Opts.CacheMaxAge
	if maxAge == 0 {
		maxAge = cache.DefaultMaxAge
	}
	if entry := c.Cache.Get(id); entry != nil &&
		entry.Valid(bug, maxAge, c.timeNow()) &&
		entry.Verdict == flagVerdict(bug.SanityCheck) &&
		(entry.Updated || !c.Opts.UpdateBugs) {
		log.Infof("bug %d: cache entry is up-to-date", id)
		needSecurity, err := c.needSecurityKeyword(ctx, bug, bugs)
		if err != nil {
			return err
		}
		if needSecurity {
			if err := c.addSecurityKeyword(ctx, bug); err != nil {
				return err
			}
		}
		stats.Skipped++
		return nil
	}

	res, outcome, skip, err := c.resolveBug(resolver, bugs, id)
	if err != nil {
		return err
	}
	if skip {
		stats.Skipped++
		return nil
	}

	var needSecurity bool
	if outcome == nil {
		// resolution succeeded; run the external check
		needSecurity, err = c.needSecurityKeyword(ctx, bug, bugs)
		if err != nil {
			return err
		}
		result, err := c.runCheck(ctx, bug, res)
		if err != nil {
			return err
		}
		stats.Checked++
		if result.Success {
			outcome = &checkOutcome{verdict: types.VerdictPass}
		} else {
			outcome = &checkOutcome{
				verdict: types.VerdictFail,
				comment: "Sanity check failed:\n\n" +
					strings.Join(checker.FormatIssues(result.Issues), "\n"),
			}
		}
	}
	if outcome.comment != "" && blockerNote != "" {
		outcome.comment += blockerNote
	}
	stats.Processed++
	if outcome.verdict == types.VerdictDeferred {
		stats.Deferred++
	}

	entry := &cache.Entry{
		LastChange:  bug.LastChangeTime,
		Fingerprint: cache.Fingerprint(bug),
		Verdict:     outcome.verdict.String(),
		CheckedAt:   c.timeNow(),
	}
	c.Cache.Put(id, entry)

	return c.reconcile(ctx, bug, outcome, res, needSecurity, entry)
}

// resolveBug runs the engine up to (but not including) the external
// check. A non-nil outcome short-circuits the check; skip means the bug
// needs no attention at all this pass.
func (c *Checker) resolveBug(resolver *depgraph.Resolver, bugs map[int]*types.Bug,
	id int) (res *resolution, outcome *checkOutcome, skip bool, err error) {
	bug := bugs[id]
	res = &resolution{
		archesCCed: len(bugzilla.ArchesFromCC(bug.CC, c.Repo.KnownArches())) > 0,
	}

	own, merr := keywords.MatchPackageList(c.Repo, bug,
		keywords.Options{OnlyNew: true})
	if merr != nil {
		var notSpec *keywords.NotSpecifiedError
		switch {
		case errors.As(merr, &notSpec), errors.Is(merr, keywords.ErrNoneLeft):
			if !res.archesCCed && bug.HasKeyword("CC-ARCHES") {
				// inference fills the undetermined entries in place;
				// the teams to CC are derived from the full list below
				_, ierr := keywords.InferCCArches(c.Repo, bug, own)
				if ierr == nil {
					break
				}
				log.Infof("bug %d: cannot infer CC arches: %v", id, ierr)
			}
			if errors.Is(merr, keywords.ErrNoneLeft) {
				log.Infof("bug %d: no CC and probably no work left", id)
				return res, nil, true, nil
			}
			// keywords undetermined and nobody to infer from
			log.Infof("bug %d: incomplete keywords, deferring", id)
			return res, &checkOutcome{verdict: types.VerdictDeferred}, false, nil
		case errors.Is(merr, keywords.ErrDoneAlready):
			log.Infof("bug %d: work done already", id)
			return res, nil, true, nil
		case errors.Is(merr, keywords.ErrListEmpty):
			log.Infof("bug %d: empty package list, deferring", id)
			return res, &checkOutcome{verdict: types.VerdictDeferred}, false, nil
		default:
			// parse or resolution failure: a hard FAIL quoting the
			// offending input
			return res, &checkOutcome{
				verdict: types.VerdictFail,
				comment: fmt.Sprintf("Unable to check for sanity:\n\n> %v", merr),
			}, false, nil
		}
	}

	// overlay keyword data resolved from same-category dependencies;
	// shared packages gain the merged keywords, but the dependencies'
	// own packages are applied only, never checked
	deps, derr := resolver.DependentKeywords(id)
	if derr != nil {
		return res, &checkOutcome{
			verdict: types.VerdictFail,
			comment: fmt.Sprintf("Unable to check for sanity:\n\n> %v", derr),
		}, false, nil
	}
	nown := len(own)
	res.plist = keywords.Merge(own, deps)
	res.own = res.plist[:nown]

	for _, pk := range res.own {
		if len(pk.Keywords) == 0 {
			// an entry stayed undetermined
			return res, &checkOutcome{verdict: types.VerdictDeferred},
				false, nil
		}
		if masked := keywords.MaskedKeywords(pk.Pkg, pk.Keywords); len(masked) > 0 {
			return res, &checkOutcome{
				verdict: types.VerdictFail,
				comment: fmt.Sprintf(
					"Unable to check for sanity:\n\n> package masked: %s, by keywords: %s",
					pk.Pkg.CPV(), strings.Join(masked, " ")),
			}, false, nil
		}
	}

	if bug.HasKeyword("CC-ARCHES") && !res.archesCCed {
		if bug.AssignedTo != "bug-wranglers@gentoo.org" {
			res.ccAdd = bugzilla.ArchesToCC(
				keywords.FilterPrefixArches(collectKeywords(res.own)))
		}
		res.ccMaintainers = maintainersToCC(res.own, bug)
	}
	return res, nil, false, nil
}

// runCheck applies the full keyword set to the work tree, runs the
// external check against the bug's own packages and restores the tree.
func (c *Checker) runCheck(ctx context.Context, bug *types.Bug,
	res *resolution) (*checker.Result, error) {
	if c.Git != nil {
		if err := c.Git.Begin(); err != nil {
			return nil, err
		}
		defer func() {
			if err := c.Git.Restore(); err != nil {
				log.Errorf("restoring work tree: %v", err)
			}
		}()
		if err := keywords.AddKeywords(res.plist, bug.Category.Stable()); err != nil {
			return nil, err
		}
	}
	return c.Check.Check(ctx, withKeywords(res.own))
}

// needSecurityKeyword reports whether the bug blocks a security bug and
// is missing the SECURITY keyword. Blocked bugs outside the prefetched
// set are fetched from the tracker.
func (c *Checker) needSecurityKeyword(ctx context.Context, bug *types.Bug,
	bugs map[int]*types.Bug) (bool, error) {
	if bug.Security || bug.HasKeyword("SECURITY") {
		return false, nil
	}
	var missing []int
	for _, id := range bug.Blocks {
		blocked, ok := bugs[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if blocked.Security {
			return true, nil
		}
	}
	if len(missing) == 0 || c.Tracker == nil {
		return false, nil
	}
	fetched, err := c.Tracker.FetchBugs(ctx, missing)
	if err != nil {
		return false, err
	}
	for _, blocked := range fetched {
		if blocked.Security {
			return true, nil
		}
	}
	return false, nil
}

// addSecurityKeyword pushes a keyword-only update for bugs whose verdict
// did not change this pass.
func (c *Checker) addSecurityKeyword(ctx context.Context, bug *types.Bug) error {
	if !c.Opts.UpdateBugs {
		log.Infof("bug %d: pretend: would add SECURITY keyword", bug.ID)
		return nil
	}
	log.Infof("bug %d: adding SECURITY keyword", bug.ID)
	return c.Tracker.Update(ctx, bug.ID,
		&types.BugUpdate{KeywordsAdd: []string{"SECURITY"}})
}

// reconcile pushes the verdict through the state machine and, on update
// runs, to the tracker.
func (c *Checker) reconcile(ctx context.Context, bug *types.Bug,
	outcome *checkOutcome, res *resolution, needSecurity bool,
	entry *cache.Entry) error {
	// fetch the last automated comment lazily, only when the dedup rule
	// needs it
	if outcome.verdict == types.VerdictFail &&
		bug.SanityCheck == types.FlagFail && bug.LastComment == "" &&
		c.Tracker != nil {
		last, err := c.Tracker.LatestComment(ctx, bug.ID)
		if err != nil {
			return err
		}
		bug.LastComment = last
	}

	upd := PlanUpdate(bug, outcome.verdict, outcome.comment)
	if upd == nil {
		if outcome.verdict == types.VerdictFail || !needSecurity {
			if outcome.verdict == types.VerdictFail {
				log.Infof("bug %d: failure reported already", bug.ID)
			} else {
				log.Infof("bug %d: still good", bug.ID)
			}
			entry.Updated = true
			c.Cache.Put(bug.ID, entry)
			return nil
		}
		// nothing changed verdict-wise, but the bug now blocks a
		// security bug
		upd = &types.BugUpdate{}
	}

	if outcome.verdict == types.VerdictPass {
		c.decoratePass(bug, upd, res)
	}
	if needSecurity {
		upd.KeywordsAdd = append(upd.KeywordsAdd, "SECURITY")
		log.Infof("bug %d: adding SECURITY keyword", bug.ID)
	}

	if !c.Opts.UpdateBugs {
		log.Infof("bug %d: pretend: would set %s%s", bug.ID, outcome.verdict,
			commentNote(upd.Comment))
		return nil
	}
	if err := c.Tracker.Update(ctx, bug.ID, upd); err != nil {
		return err
	}
	entry.Updated = true
	c.Cache.Put(bug.ID, entry)
	log.Infof("bug %d: status updated (%s)", bug.ID, outcome.verdict)
	return nil
}

// decoratePass attaches the updates that only happen on a passing check:
// CC-ing arch teams and maintainers, toggling ALLARCHES and expanding
// the list.
func (c *Checker) decoratePass(bug *types.Bug, upd *types.BugUpdate,
	res *resolution) {
	if len(res.ccAdd) > 0 {
		upd.CCAdd = append(res.ccAdd, res.ccMaintainers...)
		log.Infof("bug %d: CC arches: %s", bug.ID, strings.Join(res.ccAdd, " "))
		if len(res.ccMaintainers) > 0 {
			log.Infof("bug %d: CC maintainers: %s", bug.ID,
				strings.Join(res.ccMaintainers, " "))
		}
	}

	allarches := false
	if bug.Category.Stable() && keywords.AllArches(res.plist) {
		ok, err := keywords.CanAllArches(c.Repo, res.own)
		if err != nil {
			log.Warnf("bug %d: allarches check failed: %v", bug.ID, err)
		}
		allarches = ok && err == nil
	}
	// only toggle on state changes
	if bug.SanityCheck != types.FlagPass && allarches != bug.HasKeyword("ALLARCHES") {
		if allarches {
			upd.KeywordsAdd = append(upd.KeywordsAdd, "ALLARCHES")
			log.Infof("bug %d: adding ALLARCHES", bug.ID)
		} else {
			upd.KeywordsRemove = append(upd.KeywordsRemove, "ALLARCHES")
			log.Infof("bug %d: removing ALLARCHES", bug.ID)
		}
	}

	if (strings.Contains(bug.Atoms, "*") || strings.Contains(bug.Atoms, "^")) &&
		(res.archesCCed || len(res.ccAdd) > 0) {
		expanded, err := keywords.Expand(c.Repo, bug)
		if err == nil && expanded != bug.Atoms {
			upd.NewPackageList = expanded
			log.Infof("bug %d: expanding package list", bug.ID)
		}
	}
}

// withKeywords drops entries that resolved to an empty keyword set; the
// external check has nothing to verify for them.
func withKeywords(plist []types.PackageKeywords) []types.PackageKeywords {
	var out []types.PackageKeywords
	for _, pk := range plist {
		if len(pk.Keywords) > 0 {
			out = append(out, pk)
		}
	}
	return out
}

// collectKeywords unions the keywords over the list, preserving first
// appearance order.
func collectKeywords(list []types.PackageKeywords) []string {
	seen := map[string]bool{}
	var out []string
	for _, pk := range list {
		for _, k := range pk.Keywords {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// maintainersToCC collects the maintainer addresses of the listed
// packages, minus anyone already CC-ed and the assignee.
func maintainersToCC(list []types.PackageKeywords, bug *types.Bug) []string {
	skip := map[string]bool{bug.AssignedTo: true}
	for _, addr := range bug.CC {
		skip[addr] = true
	}
	var out []string
	for _, pk := range list {
		for _, m := range pk.Pkg.Maintainers {
			if m == "" || skip[m] {
				continue
			}
			skip[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func flagVerdict(f types.CheckFlag) string {
	switch f {
	case types.FlagPass:
		return types.VerdictPass.String()
	case types.FlagFail:
		return types.VerdictFail.String()
	}
	return types.VerdictDeferred.String()
}

func commentNote(comment string) string {
	if comment == "" {
		return ""
	}
	return ", comment:\n" + comment
}
