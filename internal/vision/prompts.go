package vision

import (
	"fmt"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

const (
	navigationSystemPrompt = "You are a VLM navigation agent. Use ONLY the screenshot to decide the next UI action. " +
		"Return STRICT JSON that matches the Action schema. No prose. " +
		"Choose large, unambiguous targets. If a search box is present, click it and type. " +
		"If you need to scroll, return type=scroll with direction and amount."

	extractionSystemPrompt = "You are a VLM extraction agent. Use ONLY the screenshot to read the latest release info. " +
		"Return STRICT JSON with keys: version, tag, author. No prose."

	// retrySuffix is appended to the system prompt after each failed attempt.
	retrySuffix = " Return valid JSON only."
)

func actionUserPrompt(stage schemas.Stage, subgoal string) string {
	return fmt.Sprintf("Stage: %s. Subgoal: %s. "+
		"Return JSON: {type, reason, bbox?, text?, key?, scroll?, expect?, candidates?}. "+
		"bbox uses pixel coordinates [x1,y1,x2,y2] in the screenshot.", stage, subgoal)
}

func extractionUserPrompt(repo string) string {
	return fmt.Sprintf("Repository: %s. Extract latest release info from the page.", repo)
}
