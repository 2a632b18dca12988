package agent

import (
	"net/url"
	"strings"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

// Outcome is the single decision a validation produces.
type Outcome string

const (
	OutcomeContinue   Outcome = "continue"
	OutcomeTransition Outcome = "transition"
	OutcomeRecover    Outcome = "recover"
	OutcomeExtract    Outcome = "extract"
	OutcomeStop       Outcome = "stop"
)

// ValidationResult is what the validator concluded about the last action.
type ValidationResult struct {
	NewStage      schemas.Stage   `json:"new_stage,omitempty"`
	Recovery      *schemas.Action `json:"recovery_action,omitempty"`
	ShouldExtract bool            `json:"should_extract"`
	ShouldStop    bool            `json:"should_stop"`
	Reason        string          `json:"reason,omitempty"`
	Hash          string          `json:"hash"`
	URL           string          `json:"url"`
}

// Outcome reports the result's one meaningful decision. Stop beats extract,
// which beats recovery, which beats a plain transition.
func (r ValidationResult) Outcome() Outcome {
	switch {
	case r.ShouldStop:
		return OutcomeStop
	case r.ShouldExtract:
		return OutcomeExtract
	case r.Recovery != nil:
		return OutcomeRecover
	case r.NewStage != "":
		return OutcomeTransition
	default:
		return OutcomeContinue
	}
}

// Validator judges progress after each action from the page URL and the
// screenshot hash.
type Validator struct {
	stuck    *StuckDetector
	maxSteps int
}

// NewValidator creates a validator that stops runs at maxSteps.
func NewValidator(stuck *StuckDetector, maxSteps int) *Validator {
	return &Validator{stuck: stuck, maxSteps: maxSteps}
}

// Assess records hash and currentURL in the state's histories and evaluates
// them. It reads the state but changes nothing besides the histories.
func (v *Validator) Assess(state *State, hash, currentURL string) ValidationResult {
	state.HashHistory.Push(hash)
	if currentURL != "" {
		state.URLHistory.Push(currentURL)
	}
	res := ValidationResult{Hash: hash, URL: currentURL}

	if state.StepCount >= v.maxSteps {
		res.ShouldStop = true
		res.Reason = "max_steps"
		return res
	}

	next, extract := stageForURL(state.Stage, currentURL, state.Repository)
	if extract {
		res.ShouldExtract = true
		if next != state.Stage {
			res.NewStage = next
		}
		res.Reason = "releases_page"
		return res
	}

	if v.stuck.Stuck(state.HashHistory, state.URLHistory, hash, currentURL) {
		res.Recovery = v.stuck.Recovery(state.RetryCount)
		res.Reason = "stuck"
		return res
	}

	if next != state.Stage {
		res.NewStage = next
		res.Reason = "url_progress"
	}
	return res
}

// stageForURL infers the stage a URL implies from the current stage. The second
// return value is true when the page should be read for the release.
func stageForURL(stage schemas.Stage, rawURL, repo string) (schemas.Stage, bool) {
	if rawURL == "" {
		return stage, false
	}
	repoPath := "/" + strings.Trim(repo, "/")
	releasesPath := repoPath + "/releases"

	next := stage
	if isSearchURL(rawURL) && stage == schemas.StageHome {
		next = schemas.StageSearchResults
	}
	if pathUnder(rawURL, repoPath) && (stage == schemas.StageHome || stage == schemas.StageSearchResults) {
		next = schemas.StageRepo
	}
	if pathUnder(rawURL, releasesPath) {
		switch stage {
		case schemas.StageRepo, schemas.StageSearchResults:
			return schemas.StageReleases, true
		case schemas.StageReleases:
			return stage, true
		}
	}
	return next, false
}

func isSearchURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimRight(u.Path, "/"), "/search")
}

// isAuthURL matches pages that require signing in. They never count as progress.
func isAuthURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, prefix := range []string{"/login", "/session", "/signup"} {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}
