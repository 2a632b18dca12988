package agent

import (
	"image"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
	"github.com/xkilldash9x/releasescout/internal/imaging"
)

// CandidateDiagnostic records how a single candidate fared against the gates.
type CandidateDiagnostic struct {
	BBox          schemas.BBox `json:"bbox"`
	Center        [2]int       `json:"center"`
	InValidColumn bool         `json:"in_valid_column"`
	BlueRatio     float64      `json:"blue_ratio"`
	LooksLikeLink bool         `json:"looks_like_link"`
	Reason        string       `json:"reason,omitempty"`
}

// FilterResult is the outcome of a candidate selection.
type FilterResult struct {
	Chosen      *schemas.Candidate    `json:"chosen,omitempty"`
	Remaining   []schemas.Candidate   `json:"remaining,omitempty"`
	Diagnostics []CandidateDiagnostic `json:"candidates"`
}

// Accepted reports whether a candidate passed the geometric gate.
func (r FilterResult) Accepted() bool { return r.Chosen != nil }

// CandidateFilter picks a click target out of the model's proposals. Only a
// central column of the page is eligible. The link-colour check is computed for
// the diagnostics but never rejects a candidate.
type CandidateFilter struct {
	cfg config.FilterConfig
}

// NewCandidateFilter creates a filter with the given band fractions.
func NewCandidateFilter(cfg config.FilterConfig) *CandidateFilter {
	return &CandidateFilter{cfg: cfg}
}

// InValidColumn reports whether bbox is large enough and its center lies outside
// the header, left and right bands of a w x h image.
func (f *CandidateFilter) InValidColumn(bbox schemas.BBox, w, h int) bool {
	ok, _ := f.gate(bbox, w, h)
	return ok
}

func (f *CandidateFilter) gate(bbox schemas.BBox, w, h int) (bool, string) {
	if bbox.Width() < f.cfg.MinSize || bbox.Height() < f.cfg.MinSize || bbox.Width() <= 0 || bbox.Height() <= 0 {
		return false, "too small"
	}
	cx, cy := bbox.Midpoint()
	switch {
	case cy < f.cfg.HeaderFrac*float64(h):
		return false, "header band"
	case cx < f.cfg.LeftFrac*float64(w):
		return false, "left band"
	case cx > f.cfg.RightFrac*float64(w):
		return false, "right band"
	}
	return true, ""
}

// Select walks cands in order and chooses the first one that passes the gate.
// Every other candidate is returned in Remaining, in original order. img may be
// nil, in which case blue ratios are reported as zero.
func (f *CandidateFilter) Select(cands []schemas.Candidate, img image.Image, w, h int) FilterResult {
	res := FilterResult{Diagnostics: make([]CandidateDiagnostic, 0, len(cands))}
	chosenIdx := -1

	for i, c := range cands {
		if chosenIdx >= 0 {
			break
		}
		ok, reason := f.gate(c.BBox, w, h)
		cx, cy := c.BBox.Center()
		diag := CandidateDiagnostic{
			BBox:          c.BBox,
			Center:        [2]int{cx, cy},
			InValidColumn: ok,
			Reason:        reason,
		}
		if img != nil {
			diag.BlueRatio = imaging.BlueRatio(img, c.BBox)
			diag.LooksLikeLink = diag.BlueRatio >= imaging.BlueThreshold(c.BBox)
		}
		res.Diagnostics = append(res.Diagnostics, diag)
		if ok {
			chosenIdx = i
		}
	}

	if chosenIdx < 0 {
		return res
	}
	chosen := cands[chosenIdx]
	res.Chosen = &chosen
	for i, c := range cands {
		if i != chosenIdx {
			res.Remaining = append(res.Remaining, c)
		}
	}
	return res
}

// candidatesOf gathers the click targets an action proposes: its candidate list
// followed by the primary bbox when present.
func candidatesOf(a *schemas.Action) []schemas.Candidate {
	out := make([]schemas.Candidate, 0, len(a.Candidates)+1)
	out = append(out, a.Candidates...)
	if a.BBox != nil {
		out = append(out, schemas.Candidate{BBox: *a.BBox, Reason: "primary"})
	}
	return out
}
