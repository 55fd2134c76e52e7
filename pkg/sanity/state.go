package sanity

import (
	"strings"

	"github.com/project-archbot/archbot/pkg/types"
)

// passComment is posted when a previously failing bug turns good.
const passComment = "All sanity-check issues have been resolved"

// PlanUpdate decides the tracker diff for one verdict. Nil means the bug
// needs no update at all.
//
// A deferred verdict resets the flag without commenting. A pass sets the
// flag and comments only when the bug was failing before. A failure sets
// the flag and comments only when the diagnostic text differs from the
// last automated comment, so repeated identical failures stay silent.
func PlanUpdate(bug *types.Bug, verdict types.Verdict, comment string) *types.BugUpdate {
	flag := func(f types.CheckFlag) *types.CheckFlag { return &f }

	switch verdict {
	case types.VerdictDeferred:
		if bug.SanityCheck == types.FlagUnset {
			return nil
		}
		return &types.BugUpdate{SanityCheck: flag(types.FlagUnset)}

	case types.VerdictPass:
		if bug.SanityCheck == types.FlagPass {
			return nil
		}
		upd := &types.BugUpdate{SanityCheck: flag(types.FlagPass)}
		if bug.SanityCheck == types.FlagFail {
			upd.Comment = passComment
		}
		return upd

	case types.VerdictFail:
		if bug.SanityCheck == types.FlagFail &&
			strings.TrimSpace(comment) == strings.TrimSpace(bug.LastComment) {
			return nil
		}
		return &types.BugUpdate{
			SanityCheck: flag(types.FlagFail),
			Comment:     comment,
		}
	}
	return nil
}
