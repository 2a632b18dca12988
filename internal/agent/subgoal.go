package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

const retryCritique = "The previous attempt did not change the URL. " +
	"Return a corrected bbox or a new action using the current screenshot."

var refineHints = [...]string{
	1: "Use a larger bbox that covers the whole card, not just the link text.",
	2: "Return several candidate bboxes in \"candidates\", best first.",
}

// Subgoal builds the instruction sent to the vision model for the current stage.
func Subgoal(state *State) string {
	var b strings.Builder
	if p := strings.TrimSpace(state.Prompt); p != "" {
		fmt.Fprintf(&b, "Operator guidance: %s ", p)
	}
	b.WriteString(stageSubgoal(state.Stage, state.Repository))
	if state.RetryCount > 0 {
		b.WriteString(" ")
		b.WriteString(retryCritique)
	}
	for level := 1; level <= state.RefineLevel && level < len(refineHints); level++ {
		b.WriteString(" ")
		b.WriteString(refineHints[level])
	}
	return b.String()
}

func stageSubgoal(stage schemas.Stage, repo string) string {
	switch stage {
	case schemas.StageHome:
		return fmt.Sprintf("Find the search bar and search for %s.", repo)
	case schemas.StageSearchResults:
		return fmt.Sprintf("You are on GitHub search results. Find the FIRST result card for %q and return "+
			"a coarse bbox around the entire card (rounded rectangle containing avatar, title, description). "+
			"Do NOT return a tight link bbox.", repo)
	case schemas.StageRepo:
		return "Find and click the Releases section in the right sidebar. " +
			"If Releases is not visible, scroll down until it appears, then click it."
	case schemas.StageReleases:
		return "Ensure the latest release card is visible and readable."
	default:
		return "Wait or noop."
	}
}
