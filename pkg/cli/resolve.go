package cli

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/project-archbot/archbot/pkg/bugzilla"
	"github.com/project-archbot/archbot/pkg/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve bug...",
	Short: "Un-CC done arches and close finished bugs",
	Long: `Remove the given arches from the CC list of each bug after their
keywords were committed. On ALLARCHES bugs one arch finishing finishes
them all. When the last arch is removed the bug is closed, except for
security bugs which stay open for the security team.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

var resolveOpts struct {
	arches    []string
	noResolve bool
	pretend   bool
}

func init() {
	f := resolveCmd.Flags()
	f.StringSliceVarP(&resolveOpts.arches, "arch", "a", nil,
		"arches to un-CC, repeatable (default: all CC-ed arches)")
	f.BoolVar(&resolveOpts.noResolve, "no-resolve", false,
		"never close the bug, only update CC")
	f.BoolVarP(&resolveOpts.pretend, "pretend", "p", false,
		"print the planned updates without pushing them")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
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

	for _, id := range ids {
		bug, ok := bugs[id]
		if !ok {
			return fmt.Errorf("bug %d not found", id)
		}
		upd := planResolve(bug, resolveOpts.arches, r.KnownArches(),
			resolveOpts.noResolve)
		if upd == nil {
			log.Infof("bug %d: nothing to do", id)
			continue
		}
		if resolveOpts.pretend {
			log.Infof("bug %d: would un-CC %v, resolve=%v",
				id, upd.CCRemove, upd.Resolve)
			continue
		}
		if err := client.Update(ctx, id, upd); err != nil {
			return fmt.Errorf("updating bug %d: %w", id, err)
		}
		log.Infof("bug %d: updated", id)
	}
	return nil
}

// planResolve computes the CC removal and closing decision for one bug.
// Nil means no CC-ed arch matched.
func planResolve(bug *types.Bug, arches, known []string, noResolve bool) *types.BugUpdate {
	cced := bugzilla.ArchesFromCC(bug.CC, known)
	if len(cced) == 0 {
		return nil
	}

	var done []string
	if len(arches) == 0 || bug.HasKeyword("ALLARCHES") {
		done = cced
	} else {
		want := map[string]bool{}
		for _, a := range arches {
			want[a] = true
		}
		for _, a := range cced {
			if want[a] {
				done = append(done, a)
			}
		}
	}
	if len(done) == 0 {
		return nil
	}

	upd := &types.BugUpdate{CCRemove: bugzilla.ArchesToCC(done)}
	if len(done) == len(cced) && !noResolve && !bug.Security && !bug.Resolved {
		upd.Resolve = true
	}
	return upd
}
