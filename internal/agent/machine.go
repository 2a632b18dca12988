package agent

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
	"github.com/xkilldash9x/releasescout/internal/imaging"
	"github.com/xkilldash9x/releasescout/internal/metrics"
)

// Node is a step of the navigation loop.
type Node int

const (
	NodeObserve Node = iota
	NodeDecide
	NodeAct
	NodeValidate
	NodeExtract
	NodeDone
)

var nodeNames = map[Node]string{
	NodeObserve:  "OBSERVE",
	NodeDecide:   "DECIDE",
	NodeAct:      "ACT",
	NodeValidate: "VALIDATE",
	NodeExtract:  "EXTRACT",
	NodeDone:     "DONE",
}

func (n Node) String() string {
	if s, ok := nodeNames[n]; ok {
		return s
	}
	return fmt.Sprintf("Node(%d)", int(n))
}

// transitions lists the nodes each node may route to. OBSERVE may end the run
// when the step ceiling has already been reached.
var transitions = map[Node][]Node{
	NodeObserve:  {NodeDecide, NodeDone},
	NodeDecide:   {NodeAct},
	NodeAct:      {NodeValidate, NodeDone},
	NodeValidate: {NodeObserve, NodeAct, NodeExtract, NodeDone},
	NodeExtract:  {NodeDone},
}

// CanTransition reports whether the loop may route from one node to the next.
func CanTransition(from, to Node) bool {
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Navigator drives one navigation run at a time from the home page to the
// latest release of the configured repository.
type Navigator struct {
	browser schemas.Browser
	vision  schemas.VisionModel
	tracer  schemas.Tracer
	cfg     config.AgentConfig
	logger  *zap.Logger
	metrics *metrics.Recorder

	filter    *CandidateFilter
	stuck     *StuckDetector
	validator *Validator
	explorer  *GridExplorer
	executor  *ActionExecutor

	saveOverlays bool
	newRunID     func() string

	mu sync.Mutex
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(n *Navigator) {
		n.metrics = rec
	}
}

// WithOverlays controls whether a bbox overlay image is traced for every
// decided action that carries a bbox.
func WithOverlays(enabled bool) Option {
	return func(n *Navigator) {
		n.saveOverlays = enabled
	}
}

// WithRunID overrides run ID generation.
func WithRunID(gen func() string) Option {
	return func(n *Navigator) {
		n.newRunID = gen
	}
}

// NewNavigator wires a navigator from its collaborators. A nil tracer discards
// all trace events.
func NewNavigator(
	browser schemas.Browser,
	vision schemas.VisionModel,
	tracer schemas.Tracer,
	cfg config.AgentConfig,
	logger *zap.Logger,
	opts ...Option,
) *Navigator {
	if tracer == nil {
		tracer = discardTracer{}
	}
	n := &Navigator{
		browser:  browser,
		vision:   vision,
		tracer:   tracer,
		cfg:      cfg,
		logger:   logger.Named("navigator"),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.filter = NewCandidateFilter(cfg.Filter)
	n.stuck = NewStuckDetector(cfg.RepeatThreshold)
	n.validator = NewValidator(n.stuck, cfg.MaxSteps)
	n.explorer = NewGridExplorer(browser, cfg.Explore, n.logger, n.metrics)
	n.executor = NewActionExecutor(browser)
	return n
}

// run holds the per-run values shared by the node functions.
type run struct {
	*Navigator
	state  *State
	logger *zap.Logger
	// step is the 1-based step index trace records are filed under.
	step int
}

// Run executes the loop until the run terminates. Reaching a ceiling is a normal
// outcome and returns a nil error with no extracted release. On context
// cancellation the partial state is returned with the context's error.
func (n *Navigator) Run(ctx context.Context) (*State, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	state := NewState(n.newRunID(), n.cfg.Repository, n.cfg.StartURL, n.cfg.Prompt, n.cfg.HistorySize)
	r := &run{
		Navigator: n,
		state:     state,
		logger:    n.logger.With(zap.String("run_id", state.RunID)),
	}
	r.logger.Info("Starting navigation run.",
		zap.String("repository", state.Repository),
		zap.Int("max_steps", n.cfg.MaxSteps),
		zap.Int("max_retries", n.cfg.MaxRetries))

	node := NodeObserve
	for node != NodeDone {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Navigation run cancelled.", zap.Stringer("node", node), zap.Error(err))
			n.metrics.RecordRun("cancelled")
			return state, err
		}

		next := r.exec(ctx, node)
		if !CanTransition(node, next) {
			return state, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, node, next)
		}
		if next != NodeDone && state.RetriesExceeded(n.cfg.MaxRetries) {
			r.logger.Info("Retry ceiling exceeded.",
				zap.Int("retry_count", state.RetryCount),
				zap.String("stage", string(state.Stage)))
			next = NodeDone
		}
		node = next
	}

	if !state.Done() {
		state.Finish()
	}
	outcome := "done"
	if state.ExtractedRelease != nil {
		outcome = "extracted"
	}
	n.metrics.RecordRun(outcome)
	r.logger.Info("Navigation run finished.",
		zap.String("outcome", outcome),
		zap.String("stage", string(state.Stage)),
		zap.Int("steps", state.StepCount))
	return state, nil
}

func (r *run) exec(ctx context.Context, node Node) Node {
	switch node {
	case NodeObserve:
		return r.observe(ctx)
	case NodeDecide:
		return r.decide(ctx)
	case NodeAct:
		return r.act(ctx)
	case NodeValidate:
		return r.validate(ctx)
	case NodeExtract:
		return r.extract(ctx)
	default:
		return NodeDone
	}
}

func (r *run) observe(ctx context.Context) Node {
	state := r.state
	if state.StepCount >= r.cfg.MaxSteps {
		r.logger.Info("Step ceiling reached.", zap.Int("steps", state.StepCount))
		return NodeDone
	}
	r.step = state.StepCount + 1

	obs, err := r.browser.Observe(ctx)
	if err != nil {
		r.logger.Warn("Observation failed.", zap.Int("step", r.step), zap.Error(err))
		r.traceError(ctx, ErrCodeBrowserFailure, err)
		state.BumpRetry()
		return NodeDecide
	}
	state.RecordObservation(obs)

	if err := r.tracer.SaveImage(ctx, r.step, "", obs.Screenshot); err != nil {
		r.logger.Warn("Failed to save step screenshot.", zap.Int("step", r.step), zap.Error(err))
	}
	r.trace(ctx, schemas.TraceObservation, nil, map[string]any{
		"url":    obs.URL,
		"title":  obs.Title,
		"stage":  state.Stage,
		"width":  obs.Width,
		"height": obs.Height,
	})
	r.logger.Debug("Observed page.",
		zap.Int("step", r.step),
		zap.String("url", obs.URL),
		zap.String("title", obs.Title),
		zap.String("stage", string(state.Stage)))

	if state.Stage == schemas.StageHome && isSearchURL(obs.URL) {
		r.setStage(schemas.StageSearchResults, "search_url")
	}
	return NodeDecide
}

func (r *run) decide(ctx context.Context) Node {
	state := r.state
	var action *schemas.Action
	var subgoal string

	if state.Stage == schemas.StageSearchResults {
		if c, ok := state.PopCandidate(); ok {
			action = schemas.ClickAt(c.BBox, "pending_candidate")
		}
	}

	if action == nil {
		if len(state.LastScreenshot) == 0 {
			action = schemas.Noop("no screenshot available")
		} else {
			subgoal = Subgoal(state)
			a, err := r.vision.GetAction(ctx, state.LastScreenshot, subgoal, state.Stage)
			if err != nil {
				r.logger.Warn("Vision model gave no usable action.", zap.Int("step", r.step), zap.Error(err))
				r.traceError(ctx, ErrCodeVisionFailure, err)
				state.BumpRetry()
				action = schemas.Noop(fmt.Sprintf("vision failure: %v", err))
			} else {
				action = a
			}
		}
	}
	state.LastAction = action

	if action.BBox != nil && r.saveOverlays && len(state.LastScreenshot) > 0 {
		overlay, err := imaging.DrawBBox(state.LastScreenshot, *action.BBox)
		if err == nil {
			err = r.tracer.SaveImage(ctx, r.step, "bbox", overlay)
		}
		if err != nil {
			r.logger.Debug("Failed to save bbox overlay.", zap.Error(err))
		}
	}
	r.trace(ctx, schemas.TraceAction, action, map[string]any{"subgoal": subgoal})
	r.logger.Info("Decided action.",
		zap.Int("step", r.step),
		zap.String("type", string(action.Type)),
		zap.String("reason", action.Reason),
		zap.String("stage", string(state.Stage)))
	return NodeAct
}

func (r *run) act(ctx context.Context) Node {
	state := r.state
	r.step = state.StepCount + 1

	action := state.LastAction
	if action == nil {
		action = schemas.Noop("missing action")
	}

	if state.Stage == schemas.StageSearchResults && action.Type == schemas.ActionClick && action.BBox != nil {
		res, err := r.explorer.Explore(ctx, *action.BBox, state.Repository)
		r.trace(ctx, schemas.TraceExplore, action, res)
		if err != nil {
			r.logger.Warn("Exploration interrupted.", zap.Error(err))
		} else if res.Success {
			r.setStage(schemas.StageRepo, "explore_hit")
		}
		r.completeStep(action)
		return NodeValidate
	}

	if state.Stage == schemas.StageSearchResults && action.IsClick() {
		if cands := candidatesOf(action); len(cands) > 0 {
			chosen, ok := r.chooseCandidate(ctx, action, cands)
			if !ok {
				r.completeStep(nil)
				if state.RetriesExceeded(r.cfg.MaxRetries) {
					return NodeDone
				}
				return NodeValidate
			}
			action = chosen
			state.LastAction = chosen
		}
	}

	if err := r.executor.Execute(ctx, action, state.Stage); err != nil {
		r.logger.Warn("Action made no progress.",
			zap.Int("step", r.step),
			zap.String("type", string(action.Type)),
			zap.Error(err))
		r.traceError(ctx, ErrCodeBrowserFailure, err)
	}
	r.completeStep(action)
	return NodeValidate
}

// chooseCandidate runs the candidate filter over cands. On acceptance it
// queues the unchosen candidates and returns a plain click on the chosen one.
// On rejection it counts a retry and records the diagnostics.
func (r *run) chooseCandidate(ctx context.Context, action *schemas.Action, cands []schemas.Candidate) (*schemas.Action, bool) {
	state := r.state
	var img image.Image
	w, h := r.browser.Viewport()
	if decoded, err := imaging.Decode(state.LastScreenshot); err == nil {
		img = decoded
		w, h = decoded.Bounds().Dx(), decoded.Bounds().Dy()
	}

	res := r.filter.Select(cands, img, w, h)
	if !res.Accepted() {
		state.BumpRetry()
		r.metrics.RecordCandidateRejection()
		r.trace(ctx, schemas.TraceRejection, action, map[string]any{
			"stage":      state.Stage,
			"candidates": res.Diagnostics,
		})
		r.logger.Info("Rejected every click candidate.",
			zap.Int("step", r.step),
			zap.Int("retry_count", state.RetryCount),
			zap.Any("candidates", res.Diagnostics))
		return nil, false
	}

	state.QueueCandidates(res.Remaining)
	chosen := *action
	bbox := res.Chosen.BBox
	chosen.Type = schemas.ActionClick
	chosen.BBox = &bbox
	chosen.Candidates = nil
	r.logger.Debug("Chose click candidate.",
		zap.Ints("bbox", bbox[:]),
		zap.Int("pending", len(state.PendingCandidates)))
	return &chosen, true
}

func (r *run) completeStep(action *schemas.Action) {
	r.state.StepCount++
	r.metrics.RecordStep()
	if action != nil {
		r.metrics.RecordAction(string(action.Type))
	}
}

func (r *run) validate(ctx context.Context) Node {
	state := r.state
	if len(state.LastScreenshot) == 0 {
		return NodeObserve
	}

	current := state.LastURL
	if u, err := r.browser.URL(ctx); err == nil && u != "" {
		current = u
		state.LastURL = u
	}
	hash, err := imaging.HashPNG(state.LastScreenshot)
	if err != nil {
		r.logger.Warn("Failed to hash screenshot.", zap.Error(err))
	}

	res := r.validator.Assess(state, hash, current)
	r.trace(ctx, schemas.TraceValidation, nil, struct {
		ValidationResult
		Outcome Outcome `json:"outcome"`
	}{res, res.Outcome()})
	r.logger.Debug("Validated step.",
		zap.Int("step", state.StepCount),
		zap.String("outcome", string(res.Outcome())),
		zap.String("reason", res.Reason),
		zap.String("hash", hash),
		zap.String("url", current))

	if isAuthURL(current) {
		r.logger.Info("Landed on an auth page, observing again.", zap.String("url", current))
		return NodeObserve
	}

	if res.NewStage != "" {
		r.setStage(res.NewStage, res.Reason)
	}

	if res.ShouldStop {
		r.logger.Info("Validation stopped the run.", zap.String("reason", res.Reason))
		return NodeDone
	}

	if res.Recovery != nil {
		r.metrics.RecordStuckRecovery(res.Recovery.Reason)
		state.BumpRetry()
		if state.RetriesExceeded(r.cfg.MaxRetries) {
			return NodeDone
		}
		r.logger.Info("Stuck, substituting a recovery action.",
			zap.String("action", res.Recovery.Reason),
			zap.Int("retry_count", state.RetryCount))
		state.LastAction = res.Recovery
		return NodeAct
	}

	if state.Stage == schemas.StageSearchResults && state.LastAction != nil &&
		state.LastAction.Type == schemas.ActionClick && r.urlUnchanged() {
		if c, ok := state.PopCandidate(); ok {
			state.LastAction = schemas.ClickAt(c.BBox, "next_candidate")
			return NodeAct
		}
		state.RaiseRefine()
		state.BumpRetry()
		return NodeObserve
	}

	if res.ShouldExtract && state.Stage == schemas.StageReleases {
		return NodeExtract
	}
	return NodeObserve
}

func (r *run) urlUnchanged() bool {
	last, ok := r.state.URLHistory.Last(0)
	if !ok {
		return false
	}
	prev, ok := r.state.URLHistory.Last(1)
	return ok && last == prev
}

func (r *run) extract(ctx context.Context) Node {
	state := r.state
	r.step = state.StepCount

	if obs, err := r.browser.Observe(ctx); err == nil {
		state.RecordObservation(obs)
	} else {
		r.logger.Warn("Fresh observation before extraction failed, using the last screenshot.", zap.Error(err))
	}
	if len(state.LastScreenshot) == 0 {
		r.traceError(ctx, ErrCodeExtractionFailure, ErrNoScreenshot)
		return NodeDone
	}

	info, err := r.vision.GetReleaseExtract(ctx, state.LastScreenshot, state.Repository)
	if err != nil {
		r.logger.Error("Release extraction failed.", zap.Error(err))
		r.traceError(ctx, ErrCodeExtractionFailure, err)
		return NodeDone
	}

	state.SetExtracted(info)
	r.metrics.RecordStageTransition(string(schemas.StageExtracted))
	r.trace(ctx, schemas.TraceExtraction, nil, info)
	r.logger.Info("Extracted latest release.",
		zap.Stringp("version", info.Version),
		zap.Stringp("tag", info.Tag),
		zap.Stringp("author", info.Author))
	return NodeDone
}

func (r *run) setStage(stage schemas.Stage, reason string) {
	from := r.state.Stage
	if r.state.SetStage(stage) {
		r.metrics.RecordStageTransition(string(stage))
		r.logger.Info("Stage changed.",
			zap.String("from", string(from)),
			zap.String("to", string(stage)),
			zap.String("reason", reason))
	}
}

func (r *run) trace(ctx context.Context, kind schemas.TraceKind, action *schemas.Action, details any) {
	ev := schemas.TraceEvent{
		RunID:     r.state.RunID,
		Step:      r.step,
		Kind:      kind,
		Stage:     r.state.Stage,
		URL:       r.state.LastURL,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
	if details != nil {
		ev = ev.WithDetails(details)
	}
	if err := r.tracer.Record(ctx, ev); err != nil {
		r.logger.Warn("Failed to record trace event.",
			zap.String("code", string(ErrCodeTraceFailure)),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

func (r *run) traceError(ctx context.Context, code ErrorCode, err error) {
	r.trace(ctx, schemas.TraceError, nil, errorDetails{Code: code, Message: err.Error()})
}

type discardTracer struct{}

func (discardTracer) Record(context.Context, schemas.TraceEvent) error { return nil }
func (discardTracer) SaveImage(context.Context, int, string, []byte) error { return nil }
