package agent

import (
	"github.com/xkilldash9x/releasescout/api/schemas"
)

// MaxRefineLevel caps the prompt refinement annotation.
const MaxRefineLevel = 2

// State is the mutable record threaded through every node of a run. It is owned
// by a single Navigator.Run call and is never shared between runs.
type State struct {
	RunID      string `json:"run_id"`
	Repository string `json:"repository"`
	StartURL   string `json:"start_url"`
	Prompt     string `json:"prompt,omitempty"`

	Stage       schemas.Stage `json:"stage"`
	StepCount   int           `json:"step_count"`
	RetryCount  int           `json:"retry_count"`
	RefineLevel int           `json:"refine_level"`

	LastURL        string `json:"last_url"`
	LastTitle      string `json:"last_title"`
	LastScreenshot []byte `json:"-"`

	URLHistory  *History[string] `json:"url_history"`
	HashHistory *History[string] `json:"screenshot_hash_history"`

	PendingCandidates []schemas.Candidate          `json:"pending_candidates"`
	LastAction        *schemas.Action              `json:"last_action,omitempty"`
	ExtractedRelease  *schemas.ReleaseInfo         `json:"extracted_release,omitempty"`
	Verification      *schemas.ReleaseVerification `json:"verification,omitempty"`
}

// NewState creates the initial state of a run in stage HOME.
func NewState(runID, repository, startURL, prompt string, historySize int) *State {
	return &State{
		RunID:       runID,
		Repository:  repository,
		StartURL:    startURL,
		Prompt:      prompt,
		Stage:       schemas.StageHome,
		URLHistory:  NewHistory[string](historySize),
		HashHistory: NewHistory[string](historySize),
	}
}

// SetStage moves the run to stage s. A real change resets the retry counter and
// the refine level and drops every pending candidate. DONE is absorbing: once
// reached, SetStage is a no-op. It reports whether the stage changed.
func (s *State) SetStage(next schemas.Stage) bool {
	if s.Stage == schemas.StageDone || s.Stage == next {
		return false
	}
	s.Stage = next
	s.RetryCount = 0
	s.RefineLevel = 0
	s.PendingCandidates = nil
	return true
}

// Finish marks the run DONE. The counters are left as they were so the final
// state still shows which ceiling ended the run.
func (s *State) Finish() {
	if s.Stage.Terminal() {
		return
	}
	s.Stage = schemas.StageDone
}

// Done reports whether the run has reached a terminal stage.
func (s *State) Done() bool {
	return s.Stage.Terminal()
}

// BumpRetry increments the consecutive failure counter and returns the new value.
func (s *State) BumpRetry() int {
	s.RetryCount++
	return s.RetryCount
}

// RaiseRefine increments the refine level, saturating at MaxRefineLevel.
func (s *State) RaiseRefine() {
	if s.RefineLevel < MaxRefineLevel {
		s.RefineLevel++
	}
}

// RetriesExceeded reports whether the retry counter is past maxRetries.
func (s *State) RetriesExceeded(maxRetries int) bool {
	return s.RetryCount > maxRetries
}

// QueueCandidates appends untried candidates. Candidates only make sense on the
// search results page, so they are ignored in any other stage.
func (s *State) QueueCandidates(cands []schemas.Candidate) {
	if s.Stage != schemas.StageSearchResults || len(cands) == 0 {
		return
	}
	s.PendingCandidates = append(s.PendingCandidates, cands...)
}

// PopCandidate removes and returns the first pending candidate.
func (s *State) PopCandidate() (schemas.Candidate, bool) {
	if len(s.PendingCandidates) == 0 {
		return schemas.Candidate{}, false
	}
	c := s.PendingCandidates[0]
	s.PendingCandidates = s.PendingCandidates[1:]
	if len(s.PendingCandidates) == 0 {
		s.PendingCandidates = nil
	}
	return c, true
}

// RecordObservation stores the latest page snapshot.
func (s *State) RecordObservation(obs *schemas.Observation) {
	s.LastURL = obs.URL
	s.LastTitle = obs.Title
	s.LastScreenshot = obs.Screenshot
}

// SetExtracted stores the release and moves the run to EXTRACTED.
func (s *State) SetExtracted(info *schemas.ReleaseInfo) {
	if s.Stage == schemas.StageDone {
		return
	}
	s.ExtractedRelease = info
	s.SetStage(schemas.StageExtracted)
}

// Result builds the terminal output. Fields are nil when nothing was extracted.
func (s *State) Result() schemas.ReleaseResult {
	res := schemas.ReleaseResult{Repository: s.Repository, Verification: s.Verification}
	if s.ExtractedRelease != nil {
		res.LatestRelease = *s.ExtractedRelease
	}
	return res
}
