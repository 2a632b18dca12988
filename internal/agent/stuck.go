package agent

import (
	"github.com/xkilldash9x/releasescout/api/schemas"
)

// Recovery action reasons, also used as metric labels.
const (
	recoveryScrollDown = "stuck_recovery_scroll_down"
	recoveryScrollUp   = "stuck_recovery_scroll_up"
	recoveryBack       = "stuck_recovery_back"
)

// StuckDetector flags a run whose screenshots and URL stop changing.
type StuckDetector struct {
	threshold int
}

// NewStuckDetector creates a detector that fires once both the current hash and
// the current URL appear threshold times in the retained history.
func NewStuckDetector(threshold int) *StuckDetector {
	if threshold < 1 {
		threshold = 1
	}
	return &StuckDetector{threshold: threshold}
}

// Stuck reports whether hash and url have each repeated at least threshold times
// within their histories. The current values must already have been pushed.
func (d *StuckDetector) Stuck(hashes, urls *History[string], hash, url string) bool {
	if url == "" {
		return false
	}
	return hashes.Count(hash) >= d.threshold && urls.Count(url) >= d.threshold
}

// Recovery returns the substitute action for the given retry count. The rotation
// is scroll down, scroll up, back.
func (d *StuckDetector) Recovery(retryCount int) *schemas.Action {
	switch retryCount % 3 {
	case 0:
		return schemas.ScrollBy(schemas.ScrollDown, 500, recoveryScrollDown)
	case 1:
		return schemas.ScrollBy(schemas.ScrollUp, 400, recoveryScrollUp)
	default:
		return &schemas.Action{Type: schemas.ActionBack, Reason: recoveryBack}
	}
}
