package agent

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
	"github.com/xkilldash9x/releasescout/internal/metrics"
)

// gridEdgeInset keeps sampled points off the border of the region.
const gridEdgeInset = 4

// Point is a viewport coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ExploreRound is one pass of the grid search.
type ExploreRound struct {
	Label  string       `json:"label"`
	Region schemas.BBox `json:"region"`
	Points []Point      `json:"points"`
}

// ExploreProbe is one click made during exploration.
type ExploreProbe struct {
	Round  string `json:"round"`
	Point  Point  `json:"point"`
	Before string `json:"before"`
	After  string `json:"after"`
	Hit    bool   `json:"hit"`
	Error  string `json:"error,omitempty"`
}

// ExploreResult summarises a grid exploration.
type ExploreResult struct {
	Success bool           `json:"success"`
	Region  schemas.BBox   `json:"region"`
	Rounds  []ExploreRound `json:"rounds"`
	Probes  []ExploreProbe `json:"probes"`
	URL     string         `json:"url,omitempty"`
}

// sleepFunc pauses for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GridExplorer clicks a deterministic sequence of points inside a region until
// the browser lands on the target repository.
type GridExplorer struct {
	browser schemas.Browser
	cfg     config.ExploreConfig
	logger  *zap.Logger
	metrics *metrics.Recorder
	sleep   sleepFunc
}

// NewGridExplorer creates an explorer driving browser.
func NewGridExplorer(browser schemas.Browser, cfg config.ExploreConfig, logger *zap.Logger, rec *metrics.Recorder) *GridExplorer {
	return &GridExplorer{
		browser: browser,
		cfg:     cfg,
		logger:  logger.Named("explorer"),
		metrics: rec,
		sleep:   sleepCtx,
	}
}

// ClampToViewport limits region to a w x h viewport, keeping x at or right of
// leftMargin so the global navigation column is never probed.
func ClampToViewport(region schemas.BBox, w, h, leftMargin int) schemas.BBox {
	return schemas.BBox{
		max(leftMargin, min(region[0], w)),
		max(0, min(region[1], h)),
		max(leftMargin, min(region[2], w)),
		max(0, min(region[3], h)),
	}
}

// ShrinkTopLeft keeps the top-left corner of region and scales its size.
func ShrinkTopLeft(region schemas.BBox, scale float64) schemas.BBox {
	w := max(1, region.Width())
	h := max(1, region.Height())
	return schemas.BBox{
		region[0],
		region[1],
		region[0] + int(scale*float64(w)),
		region[1] + int(scale*float64(h)),
	}
}

// GridPoints samples cols x rows points at fractions (i+1)/(n+1) of region, row
// by row, each kept gridEdgeInset pixels inside the region. At most limit
// points are returned.
func GridPoints(region schemas.BBox, cols, rows, limit int) []Point {
	w := max(1, region.Width())
	h := max(1, region.Height())
	points := make([]Point, 0, cols*rows)
	for j := 0; j < rows; j++ {
		fy := float64(j+1) / float64(rows+1)
		for i := 0; i < cols; i++ {
			fx := float64(i+1) / float64(cols+1)
			px := min(max(region[0]+int(fx*float64(w)), region[0]+gridEdgeInset), region[2]-gridEdgeInset)
			py := min(max(region[1]+int(fy*float64(h)), region[1]+gridEdgeInset), region[3]-gridEdgeInset)
			points = append(points, Point{X: px, Y: py})
		}
	}
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points
}

// Plan clamps region to the viewport and lays out the three rounds. It reports
// false when the clamped region is too thin to sample.
func (e *GridExplorer) Plan(region schemas.BBox) (schemas.BBox, []ExploreRound, bool) {
	w, h := e.browser.Viewport()
	r := ClampToViewport(region, w, h, e.cfg.LeftMargin)
	if r[2] <= r[0]+e.cfg.MinSpan || r[3] <= r[1]+e.cfg.MinSpan {
		return r, nil, false
	}

	b := ShrinkTopLeft(r, e.cfg.ShrinkScale)
	c := ShrinkTopLeft(b, e.cfg.ShrinkScale)
	return r, []ExploreRound{
		{Label: "A", Region: r, Points: GridPoints(r, 3, 2, e.cfg.MaxPoints)},
		{Label: "B", Region: b, Points: GridPoints(b, 5, 2, e.cfg.MaxPoints)},
		{Label: "C", Region: c, Points: GridPoints(c, 5, 2, e.cfg.MaxPoints)},
	}, true
}

// Explore runs the rounds over region and stops at the first click that lands
// on repo. Browser failures on a single probe are logged and the scan moves on.
// The returned error is only ever a context error.
func (e *GridExplorer) Explore(ctx context.Context, region schemas.BBox, repo string) (*ExploreResult, error) {
	clamped, rounds, ok := e.Plan(region)
	res := &ExploreResult{Region: clamped, Rounds: rounds}
	if !ok {
		e.logger.Info("Region too small to explore.", zap.Ints("bbox", clamped[:]))
		return res, nil
	}

	for _, round := range rounds {
		e.logger.Debug("Explore round.",
			zap.String("round", round.Label),
			zap.Ints("bbox", round.Region[:]),
			zap.Int("points", len(round.Points)))

		for _, p := range round.Points {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			probe := e.probe(ctx, round.Label, p, repo)
			res.Probes = append(res.Probes, probe)
			e.metrics.RecordExploreProbe(probe.Hit)
			if probe.Hit {
				res.Success = true
				res.URL = probe.After
				e.logger.Info("Exploration reached the repository.",
					zap.String("round", round.Label),
					zap.Int("x", p.X), zap.Int("y", p.Y),
					zap.String("url", probe.After))
				return res, nil
			}
		}
	}
	return res, ctx.Err()
}

func (e *GridExplorer) probe(ctx context.Context, label string, p Point, repo string) ExploreProbe {
	probe := ExploreProbe{Round: label, Point: p}
	before, err := e.browser.URL(ctx)
	if err != nil {
		probe.Error = err.Error()
		return probe
	}
	probe.Before = before

	if err := e.browser.ClickPoint(ctx, p.X, p.Y); err != nil {
		e.logger.Warn("Explore click failed.", zap.Int("x", p.X), zap.Int("y", p.Y), zap.Error(err))
		probe.Error = err.Error()
		return probe
	}
	if err := e.sleep(ctx, e.cfg.SettleDelay); err != nil {
		probe.Error = err.Error()
		return probe
	}
	e.waitForLoad(ctx)

	after, err := e.browser.URL(ctx)
	if err != nil {
		probe.Error = err.Error()
		return probe
	}
	probe.After = after
	probe.Hit = after != before && MatchesRepoPath(after, repo)
	e.logger.Debug("Explore click.",
		zap.Int("x", p.X), zap.Int("y", p.Y),
		zap.String("before", before), zap.String("after", after))

	if !probe.Hit && after != before && e.cfg.BackOnMiss {
		if err := e.browser.Back(ctx); err != nil {
			e.logger.Warn("Failed to navigate back after a missed probe.", zap.Error(err))
		} else {
			e.waitForLoad(ctx)
		}
	}
	return probe
}

// waitForLoad waits for the page to settle, bounded by the load timeout. A
// timeout is expected on slow pages and only logged.
func (e *GridExplorer) waitForLoad(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.LoadTimeout)
	defer cancel()
	if err := e.browser.WaitForIdle(waitCtx); err != nil {
		e.logger.Debug("Page did not settle within the load timeout.", zap.Error(err))
	}
}

// MatchesRepoPath reports whether rawURL's path is /owner/repo or lies under it,
// compared case-insensitively.
func MatchesRepoPath(rawURL, repo string) bool {
	return pathUnder(rawURL, "/"+strings.Trim(repo, "/"))
}

func pathUnder(rawURL, prefix string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(strings.TrimRight(u.Path, "/"))
	prefix = strings.ToLower(strings.TrimRight(prefix, "/"))
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
