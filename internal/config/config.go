// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// MaxHistorySize is the capacity of the screenshot and URL histories.
const MaxHistorySize = 6

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Vision   VisionConfig   `mapstructure:"vision" yaml:"vision"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Trace    TraceConfig    `mapstructure:"trace" yaml:"trace"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Verify   VerifyConfig   `mapstructure:"verify" yaml:"verify"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// ViewportConfig is the browser window size in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	ActionDelay       time.Duration  `mapstructure:"action_delay" yaml:"action_delay"`
	ObserveDelay      time.Duration  `mapstructure:"observe_delay" yaml:"observe_delay"`
	KeyDelay          time.Duration  `mapstructure:"key_delay" yaml:"key_delay"`
	IdleTimeout       time.Duration  `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string       `mapstructure:"args" yaml:"args"`
}

// VisionConfig configures the Gemini vision model calls.
type VisionConfig struct {
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	NavigationModel   string        `mapstructure:"navigation_model" yaml:"navigation_model"`
	ExtractionModel   string        `mapstructure:"extraction_model" yaml:"extraction_model"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
}

// FilterConfig bounds the central column that click candidates must land in.
type FilterConfig struct {
	HeaderFrac float64 `mapstructure:"header_frac" yaml:"header_frac"`
	LeftFrac   float64 `mapstructure:"left_frac" yaml:"left_frac"`
	RightFrac  float64 `mapstructure:"right_frac" yaml:"right_frac"`
	MinSize    int     `mapstructure:"min_size" yaml:"min_size"`
}

// ExploreConfig tunes the grid-exploration fallback.
type ExploreConfig struct {
	LeftMargin  int           `mapstructure:"left_margin" yaml:"left_margin"`
	MinSpan     int           `mapstructure:"min_span" yaml:"min_span"`
	ShrinkScale float64       `mapstructure:"shrink_scale" yaml:"shrink_scale"`
	MaxPoints   int           `mapstructure:"max_points" yaml:"max_points"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	LoadTimeout time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	BackOnMiss  bool          `mapstructure:"back_on_miss" yaml:"back_on_miss"`
}

// AgentConfig holds the navigation task and its ceilings.
type AgentConfig struct {
	Repository      string        `mapstructure:"repository" yaml:"repository"`
	StartURL        string        `mapstructure:"start_url" yaml:"start_url"`
	Prompt          string        `mapstructure:"prompt" yaml:"prompt"`
	MaxSteps        int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	RepeatThreshold int           `mapstructure:"repeat_threshold" yaml:"repeat_threshold"`
	HistorySize     int           `mapstructure:"history_size" yaml:"history_size"`
	Filter          FilterConfig  `mapstructure:"filter" yaml:"filter"`
	Explore         ExploreConfig `mapstructure:"explore" yaml:"explore"`
}

// TraceConfig controls the on-disk run trace.
type TraceConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir          string `mapstructure:"dir" yaml:"dir"`
	SaveOverlays bool   `mapstructure:"save_overlays" yaml:"save_overlays"`
}

// DatabaseConfig holds the database connection details. An empty URL disables
// run persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// VerifyConfig configures the GitHub API cross-check of the extracted release.
type VerifyConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Token   string        `mapstructure:"token" yaml:"-"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "releasescout")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.action_delay", "250ms")
	v.SetDefault("browser.observe_delay", "1s")
	v.SetDefault("browser.key_delay", "20ms")
	v.SetDefault("browser.idle_timeout", "8s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.user_data_dir", "")

	// -- Vision --
	v.SetDefault("vision.navigation_model", "gemini-2.5-flash")
	v.SetDefault("vision.extraction_model", "")
	v.SetDefault("vision.api_timeout", "30s")
	v.SetDefault("vision.max_attempts", 3)
	v.SetDefault("vision.requests_per_minute", 30.0)
	v.SetDefault("vision.temperature", 0.1)

	// -- Agent --
	v.SetDefault("agent.repository", "openclaw/openclaw")
	v.SetDefault("agent.start_url", "https://github.com")
	v.SetDefault("agent.max_steps", 25)
	v.SetDefault("agent.max_retries", 3)
	v.SetDefault("agent.repeat_threshold", 3)
	v.SetDefault("agent.history_size", 6)
	v.SetDefault("agent.filter.header_frac", 0.10)
	v.SetDefault("agent.filter.left_frac", 0.16)
	v.SetDefault("agent.filter.right_frac", 0.82)
	v.SetDefault("agent.filter.min_size", 5)
	v.SetDefault("agent.explore.left_margin", 220)
	v.SetDefault("agent.explore.min_span", 20)
	v.SetDefault("agent.explore.shrink_scale", 0.70)
	v.SetDefault("agent.explore.max_points", 10)
	v.SetDefault("agent.explore.settle_delay", "800ms")
	v.SetDefault("agent.explore.load_timeout", "1500ms")
	v.SetDefault("agent.explore.back_on_miss", false)

	// -- Trace --
	v.SetDefault("trace.enabled", true)
	v.SetDefault("trace.dir", "runs")
	v.SetDefault("trace.save_overlays", true)

	// -- Verify --
	v.SetDefault("verify.enabled", false)
	v.SetDefault("verify.base_url", "")
	v.SetDefault("verify.timeout", "15s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets conventionally live in their provider's own variables.
	_ = v.BindEnv("vision.api_key", "RELEASESCOUT_VISION_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("verify.token", "RELEASESCOUT_VERIFY_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("database.url", "RELEASESCOUT_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Vision.APIKey == "" {
		cfg.Vision.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Vision.ExtractionModel == "" {
		cfg.Vision.ExtractionModel = cfg.Vision.NavigationModel
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every filesystem path setting.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Trace.Dir, &c.Browser.UserDataDir, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Vision.Validate(); err != nil {
		return fmt.Errorf("vision configuration invalid: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if c.Trace.Enabled && c.Trace.Dir == "" {
		return fmt.Errorf("trace.dir is required when tracing is enabled")
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	if b.Viewport.Width <= 0 || b.Viewport.Height <= 0 {
		return fmt.Errorf("viewport must have positive width and height")
	}
	if b.ActionDelay < 0 || b.ObserveDelay < 0 || b.KeyDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// Validate checks the vision settings. The API key is checked where the client is built
// so that commands which never call the model do not require it.
func (vc *VisionConfig) Validate() error {
	if vc.NavigationModel == "" {
		return fmt.Errorf("navigation_model is required")
	}
	if vc.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	if vc.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	return nil
}

// Validate checks the agent settings.
func (a *AgentConfig) Validate() error {
	if a.Repository == "" {
		return fmt.Errorf("repository is required (owner/repo)")
	}
	if !validRepoSlug(a.Repository) {
		return fmt.Errorf("repository %q must be in owner/repo form", a.Repository)
	}
	if a.StartURL == "" {
		return fmt.Errorf("start_url is required")
	}
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if a.RepeatThreshold <= 0 {
		return fmt.Errorf("repeat_threshold must be a positive integer")
	}
	if a.HistorySize < a.RepeatThreshold {
		return fmt.Errorf("history_size (%d) must be at least repeat_threshold (%d)", a.HistorySize, a.RepeatThreshold)
	}
	if a.HistorySize > MaxHistorySize {
		return fmt.Errorf("history_size (%d) must not exceed %d", a.HistorySize, MaxHistorySize)
	}
	f := a.Filter
	if f.HeaderFrac < 0 || f.LeftFrac < 0 || f.RightFrac > 1 || f.LeftFrac >= f.RightFrac {
		return fmt.Errorf("filter fractions must satisfy 0 <= left_frac < right_frac <= 1 and header_frac >= 0")
	}
	if a.Explore.ShrinkScale <= 0 || a.Explore.ShrinkScale > 1 {
		return fmt.Errorf("explore.shrink_scale must be in (0, 1]")
	}
	if a.Explore.MaxPoints <= 0 {
		return fmt.Errorf("explore.max_points must be a positive integer")
	}
	return nil
}

func validRepoSlug(s string) bool {
	slash := -1
	for i, r := range s {
		if r == '/' {
			if slash != -1 {
				return false
			}
			slash = i
		}
	}
	return slash > 0 && slash < len(s)-1
}
