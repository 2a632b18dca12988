// File: cmd/navigate.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/agent"
	"github.com/xkilldash9x/releasescout/internal/browser"
	"github.com/xkilldash9x/releasescout/internal/config"
	"github.com/xkilldash9x/releasescout/internal/llmclient"
	"github.com/xkilldash9x/releasescout/internal/metrics"
	"github.com/xkilldash9x/releasescout/internal/observability"
	"github.com/xkilldash9x/releasescout/internal/reporting"
	"github.com/xkilldash9x/releasescout/internal/store"
	"github.com/xkilldash9x/releasescout/internal/trace"
	"github.com/xkilldash9x/releasescout/internal/verify"
	"github.com/xkilldash9x/releasescout/internal/vision"
)

const (
	metricsNamespace       = "releasescout"
	metricsShutdownTimeout = 5 * time.Second
)

// browserSession is a schemas.Browser with a lifecycle.
type browserSession interface {
	schemas.Browser
	Start(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	Close() error
}

type dbPool interface {
	store.DBPool
	Close()
}

// components holds the constructors a navigation run is assembled from.
type components struct {
	newBrowser func(cfg config.BrowserConfig, logger *zap.Logger) browserSession
	newVision  func(ctx context.Context, cfg config.VisionConfig, logger *zap.Logger, rec *metrics.Recorder) (schemas.VisionModel, error)
	newPool    func(ctx context.Context, url string) (dbPool, error)
	newRunID   func() string
	now        func() time.Time
}

func defaultComponents() components {
	return components{
		newBrowser: func(cfg config.BrowserConfig, logger *zap.Logger) browserSession {
			return browser.NewSession(cfg, logger)
		},
		newVision: func(ctx context.Context, cfg config.VisionConfig, logger *zap.Logger, rec *metrics.Recorder) (schemas.VisionModel, error) {
			llm, err := llmclient.NewClient(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return vision.NewClient(llm, cfg, logger, rec), nil
		},
		newPool: func(ctx context.Context, url string) (dbPool, error) {
			pool, err := pgxpool.New(ctx, url)
			if err != nil {
				return nil, err
			}
			return pool, nil
		},
		newRunID: uuid.NewString,
		now:      time.Now,
	}
}

type navigateOptions struct {
	out     string
	format  string
	headed  bool
	noTrace bool
}

func newNavigateCmd(v *viper.Viper, deps components) *cobra.Command {
	var opts navigateOptions

	navigateCmd := &cobra.Command{
		Use:   "navigate",
		Short: "Find the latest release of a repository by driving github.com",
		Long: `Starts a browser on the start URL and lets the vision model search for the
repository, open it, open its releases page and read the latest release.

The result is printed to stdout as JSON:
  {"repository": "...", "latest_release": {"version": ..., "tag": ..., "author": ...}}
Fields the run could not extract are null.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if opts.headed {
				cfg.Browser.Headless = false
			}
			if opts.noTrace {
				cfg.Trace.Enabled = false
			}

			// Reject a bad format before a browser is started.
			stdout, err := reporting.NewForStream(opts.format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer stdout.Close()

			result, err := runNavigate(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}

			if err := stdout.Write(result); err != nil {
				return err
			}
			if opts.out != "" {
				return writeResultFile(opts.out, result)
			}
			return nil
		},
	}

	flags := navigateCmd.Flags()
	flags.String("repo", "openclaw/openclaw", "repository to look up (owner/repo)")
	flags.String("url", "https://github.com", "page the browser starts on")
	flags.String("prompt", "", "extra guidance prefixed to every subgoal")
	flags.Int("max-steps", 25, "maximum number of act cycles")
	flags.Int("max-retries", 3, "maximum retries within one stage")
	flags.String("vlm-model", "gemini-2.5-flash", "model used to choose actions")
	flags.String("extract-model", "", "model used to read the release (defaults to --vlm-model)")
	flags.String("trace-dir", "runs", "base directory of the run traces")
	flags.String("user-data-dir", "", "persistent browser profile directory")
	flags.Bool("verify", false, "cross-check the result against the GitHub API")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")

	flags.StringVarP(&opts.out, "out", "o", "", "also write the JSON result to this file")
	flags.StringVar(&opts.format, "format", "json", "stdout format (json, text)")
	flags.BoolVar(&opts.headed, "headed", false, "show the browser window")
	flags.BoolVar(&opts.noTrace, "no-trace", false, "do not write a run trace")

	bindings := map[string]string{
		"agent.repository":        "repo",
		"agent.start_url":         "url",
		"agent.prompt":            "prompt",
		"agent.max_steps":         "max-steps",
		"agent.max_retries":       "max-retries",
		"vision.navigation_model": "vlm-model",
		"vision.extraction_model": "extract-model",
		"trace.dir":               "trace-dir",
		"browser.user_data_dir":   "user-data-dir",
		"verify.enabled":          "verify",
		"metrics.addr":            "metrics-addr",
	}
	for key, name := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	return navigateCmd
}

// runNavigate performs one navigation run. When a metrics address is set the
// endpoint is served for the duration of the run.
func runNavigate(ctx context.Context, cfg *config.Config, deps components) (*schemas.ReleaseResult, error) {
	logger := observability.GetLogger()
	rec := metrics.NewRecorder(metricsNamespace, logger)

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rec.Handler())
		// Bind before the run so a bad address fails fast.
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return nil, fmt.Errorf("metrics server failed: %w", err)
		}
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("Serving metrics.", zap.String("addr", ln.Addr().String()))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	var result *schemas.ReleaseResult
	g.Go(func() error {
		if srv != nil {
			defer shutdownServer(srv, logger)
		}
		res, err := navigate(gctx, cfg, deps, rec, logger)
		result = res
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func navigate(ctx context.Context, cfg *config.Config, deps components, rec *metrics.Recorder, logger *zap.Logger) (*schemas.ReleaseResult, error) {
	runID := deps.newRunID()
	startedAt := deps.now()
	runLogger := logger.With(zap.String("run_id", runID))

	visionModel, err := deps.newVision(ctx, cfg.Vision, logger, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision model: %w", err)
	}

	session := deps.newBrowser(cfg.Browser, logger)
	if err := session.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			runLogger.Warn("Failed to close browser.", zap.Error(err))
		}
	}()
	if err := session.Navigate(ctx, cfg.Agent.StartURL); err != nil {
		return nil, fmt.Errorf("failed to open start url: %w", err)
	}

	var tracers []schemas.Tracer
	if cfg.Trace.Enabled {
		ft, err := trace.NewFileTracer(cfg.Trace.Dir, startedAt, logger)
		if err != nil {
			return nil, err
		}
		runLogger.Info("Writing run trace.", zap.String("dir", ft.Dir()))
		tracers = append(tracers, ft)
	}

	var runStore *store.Store
	if cfg.Database.URL != "" {
		pool, err := deps.newPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		if runStore, err = store.New(ctx, pool, logger); err != nil {
			return nil, err
		}
		if err := runStore.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		if err := runStore.CreateRun(ctx, runID, cfg.Agent.Repository, cfg.Agent.StartURL, startedAt); err != nil {
			return nil, err
		}
		tracers = append(tracers, runStore)
	}

	nav := agent.NewNavigator(session, visionModel, trace.NewMulti(tracers...), cfg.Agent, logger,
		agent.WithMetrics(rec),
		agent.WithOverlays(cfg.Trace.Enabled && cfg.Trace.SaveOverlays),
		agent.WithRunID(func() string { return runID }),
	)
	state, runErr := nav.Run(ctx)

	if runErr == nil && cfg.Verify.Enabled && state.ExtractedRelease != nil {
		state.Verification = verifyRelease(ctx, cfg.Verify, state.Repository, *state.ExtractedRelease, runLogger)
	}
	result := state.Result()

	if runStore != nil {
		summary := store.RunSummary{FinalStage: state.Stage, Steps: state.StepCount, FinishedAt: deps.now()}
		if state.ExtractedRelease != nil {
			summary.Release = &result
		}
		// The outcome is stored even when the run was cancelled.
		if err := runStore.FinishRun(context.WithoutCancel(ctx), runID, summary); err != nil {
			runLogger.Error("Failed to store run outcome.", zap.Error(err))
		}
	}

	if runErr != nil {
		return nil, runErr
	}
	return &result, nil
}

// verifyRelease never fails the run. A failed lookup is logged and leaves the
// result without a verification block.
func verifyRelease(ctx context.Context, cfg config.VerifyConfig, repo string, info schemas.ReleaseInfo, logger *zap.Logger) *schemas.ReleaseVerification {
	verifier, err := verify.NewVerifier(cfg, logger)
	if err != nil {
		logger.Warn("Release verification unavailable.", zap.Error(err))
		return nil
	}
	res, err := verifier.Verify(ctx, repo, info)
	if err != nil {
		logger.Warn("Release verification failed.", zap.Error(err))
		return nil
	}
	if !res.TagMatches {
		logger.Warn("Extracted tag differs from the API.", zap.String("api_tag", res.APITag))
	}
	return res
}

func writeResultFile(path string, result *schemas.ReleaseResult) error {
	r, err := reporting.New("json", path)
	if err != nil {
		return err
	}
	if err := r.Write(result); err != nil {
		r.Close()
		return err
	}
	return r.Close()
}

func shutdownServer(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Metrics server shutdown failed.", zap.Error(err))
	}
}
