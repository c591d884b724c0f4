package app

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/xoelrdgz/logsift/internal/adapters/detection"
	"github.com/xoelrdgz/logsift/internal/analysis"
)

const EnvPrefix = "LOGSIFT"

type Config struct {
	Parser    ParserConfig    `mapstructure:"parser"`
	Detection DetectionConfig `mapstructure:"detection"`
	Insights  InsightsConfig  `mapstructure:"insights"`
	Report    ReportConfig    `mapstructure:"report"`
	Blacklist BlacklistConfig `mapstructure:"blacklist"`
	Geo       GeoConfig       `mapstructure:"geo"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Server    ServerConfig    `mapstructure:"server"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ParserConfig struct {
	Format   string            `mapstructure:"format"`
	Pattern  string            `mapstructure:"pattern"`
	Grammars map[string]string `mapstructure:"grammars"`
}

type DetectionConfig struct {
	OutlierK   float64          `mapstructure:"outlier_k"`
	Burst      BurstConfig      `mapstructure:"burst"`
	Session    SessionConfig    `mapstructure:"session"`
	ErrorPaths ErrorPathsConfig `mapstructure:"error_paths"`
	BotLike    BotLikeConfig    `mapstructure:"bot_like"`
}

type BurstConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	Threshold     int `mapstructure:"threshold"`
}

type SessionConfig struct {
	TimeoutMinutes int    `mapstructure:"timeout_minutes"`
	Key            string `mapstructure:"key"`
}

type ErrorPathsConfig struct {
	MinTotal int `mapstructure:"min_total"`
}

type BotLikeConfig struct {
	MinRequests  int `mapstructure:"min_requests"`
	MaxDiversity int `mapstructure:"max_diversity"`
}

type InsightsConfig struct {
	AgentShare      float64 `mapstructure:"agent_share"`
	ErrorRate       float64 `mapstructure:"error_rate"`
	ServerErrorRate float64 `mapstructure:"server_error_rate"`
	SpikeFactor     float64 `mapstructure:"spike_factor"`
	DropFactor      float64 `mapstructure:"drop_factor"`
	ClusterMinPaths int     `mapstructure:"cluster_min_paths"`
}

type ReportConfig struct {
	TopN int `mapstructure:"top_n"`
}

type BlacklistConfig struct {
	Path string `mapstructure:"path"`
}

type GeoConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Region  string `mapstructure:"region"`
	Retries int    `mapstructure:"retries"`
}

type ServerConfig struct {
	Addr        string  `mapstructure:"addr"`
	UploadDir   string  `mapstructure:"upload_dir"`
	MaxUploadMB int     `mapstructure:"max_upload_mb"`
	RateLimit   float64 `mapstructure:"rate_limit"`
	RateBurst   int     `mapstructure:"rate_burst"`
}

type WorkersConfig struct {
	Count          int    `mapstructure:"count"`
	BufferSize     int    `mapstructure:"buffer_size"`
	DeadLetterPath string `mapstructure:"dead_letter_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SetDefaults registers a default for every key so that env overrides work
// without a config file.
func SetDefaults(v *viper.Viper) {
	thresholds := analysis.DefaultThresholds()

	v.SetDefault("parser.format", "default")
	v.SetDefault("parser.pattern", "")
	v.SetDefault("parser.grammars", map[string]string{})

	v.SetDefault("detection.outlier_k", detection.DefaultOutlierK)
	v.SetDefault("detection.burst.window_seconds", int(detection.DefaultBurstWindow/time.Second))
	v.SetDefault("detection.burst.threshold", detection.DefaultBurstThreshold)
	v.SetDefault("detection.session.timeout_minutes", int(detection.DefaultSessionTimeout/time.Minute))
	v.SetDefault("detection.session.key", string(detection.SessionKeyIP))
	v.SetDefault("detection.error_paths.min_total", analysis.DefaultErrorPathMinTotal)
	v.SetDefault("detection.bot_like.min_requests", DefaultBotLikeMinRequests)
	v.SetDefault("detection.bot_like.max_diversity", DefaultBotLikeMaxDiversity)

	v.SetDefault("insights.agent_share", thresholds.AgentShare)
	v.SetDefault("insights.error_rate", thresholds.ErrorRate)
	v.SetDefault("insights.server_error_rate", thresholds.ServerErrorRate)
	v.SetDefault("insights.spike_factor", thresholds.SpikeFactor)
	v.SetDefault("insights.drop_factor", thresholds.DropFactor)
	v.SetDefault("insights.cluster_min_paths", thresholds.ClusterMinPaths)

	v.SetDefault("report.top_n", DefaultTopN)

	v.SetDefault("blacklist.path", "")
	v.SetDefault("geo.db_path", "")
	v.SetDefault("store.path", "./data/logsift.db")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "raw-logs")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.retries", 3)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.upload_dir", "./uploads")
	v.SetDefault("server.max_upload_mb", 100)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)

	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.buffer_size", 256)
	v.SetDefault("workers.dead_letter_path", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
}

// ConfigureViper points v at cfgFile, or at config.yaml in the standard
// search path when cfgFile is empty, and enables LOGSIFT_* env overrides.
// A missing config file is not an error.
func ConfigureViper(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/logsift")
	}

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// LoadConfig decodes and validates the current viper state.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects out-of-range values. The first violation is returned as a
// *ConfigValidationError.
func (c *Config) Validate() error {
	if _, err := detection.ParseSessionKey(c.Detection.Session.Key); err != nil {
		return &ConfigValidationError{Field: "detection.session.key", Value: c.Detection.Session.Key, Reason: "must be ip or ip_ua"}
	}

	checks := []struct {
		field  string
		value  any
		ok     bool
		reason string
	}{
		{"detection.outlier_k", c.Detection.OutlierK, c.Detection.OutlierK > 0, "must be positive"},
		{"detection.burst.window_seconds", c.Detection.Burst.WindowSeconds, c.Detection.Burst.WindowSeconds > 0, "must be positive"},
		{"detection.burst.threshold", c.Detection.Burst.Threshold, c.Detection.Burst.Threshold > 0, "must be positive"},
		{"detection.session.timeout_minutes", c.Detection.Session.TimeoutMinutes, c.Detection.Session.TimeoutMinutes > 0, "must be positive"},
		{"detection.error_paths.min_total", c.Detection.ErrorPaths.MinTotal, c.Detection.ErrorPaths.MinTotal > 0, "must be positive"},
		{"detection.bot_like.min_requests", c.Detection.BotLike.MinRequests, c.Detection.BotLike.MinRequests > 0, "must be positive"},
		{"detection.bot_like.max_diversity", c.Detection.BotLike.MaxDiversity, c.Detection.BotLike.MaxDiversity > 0, "must be positive"},
		{"insights.agent_share", c.Insights.AgentShare, c.Insights.AgentShare > 0 && c.Insights.AgentShare <= 1, "must be in (0, 1]"},
		{"insights.error_rate", c.Insights.ErrorRate, c.Insights.ErrorRate > 0 && c.Insights.ErrorRate <= 1, "must be in (0, 1]"},
		{"insights.server_error_rate", c.Insights.ServerErrorRate, c.Insights.ServerErrorRate > 0 && c.Insights.ServerErrorRate <= 1, "must be in (0, 1]"},
		{"insights.spike_factor", c.Insights.SpikeFactor, c.Insights.SpikeFactor > 1, "must be greater than 1"},
		{"insights.drop_factor", c.Insights.DropFactor, c.Insights.DropFactor > 0 && c.Insights.DropFactor < 1, "must be in (0, 1)"},
		{"insights.cluster_min_paths", c.Insights.ClusterMinPaths, c.Insights.ClusterMinPaths > 1, "must be at least 2"},
		{"report.top_n", c.Report.TopN, c.Report.TopN > 0, "must be positive"},
		{"archive.bucket", c.Archive.Bucket, !c.Archive.Enabled || c.Archive.Bucket != "", "required when archive is enabled"},
		{"archive.retries", c.Archive.Retries, c.Archive.Retries >= 0, "must not be negative"},
		{"server.max_upload_mb", c.Server.MaxUploadMB, c.Server.MaxUploadMB > 0, "must be positive"},
		{"server.rate_limit", c.Server.RateLimit, c.Server.RateLimit > 0, "must be positive"},
		{"server.rate_burst", c.Server.RateBurst, c.Server.RateBurst > 0, "must be positive"},
		{"workers.count", c.Workers.Count, c.Workers.Count >= 1 && c.Workers.Count <= 1000, "must be between 1 and 1000"},
		{"workers.buffer_size", c.Workers.BufferSize, c.Workers.BufferSize >= 1 && c.Workers.BufferSize <= 1000000, "must be between 1 and 1M"},
	}
	for _, check := range checks {
		if !check.ok {
			return &ConfigValidationError{Field: check.field, Value: check.value, Reason: check.reason}
		}
	}
	return nil
}

// Options converts the detection, insight and report sections into engine
// options.
func (c *Config) Options() Options {
	key, _ := detection.ParseSessionKey(c.Detection.Session.Key)
	return Options{
		OutlierK:            c.Detection.OutlierK,
		BurstWindow:         time.Duration(c.Detection.Burst.WindowSeconds) * time.Second,
		BurstThreshold:      c.Detection.Burst.Threshold,
		SessionTimeout:      time.Duration(c.Detection.Session.TimeoutMinutes) * time.Minute,
		SessionKey:          key,
		ErrorPathMinTotal:   c.Detection.ErrorPaths.MinTotal,
		BotLikeMinRequests:  c.Detection.BotLike.MinRequests,
		BotLikeMaxDiversity: c.Detection.BotLike.MaxDiversity,
		TopN:                c.Report.TopN,
		Thresholds: analysis.Thresholds{
			AgentShare:      c.Insights.AgentShare,
			ErrorRate:       c.Insights.ErrorRate,
			ServerErrorRate: c.Insights.ServerErrorRate,
			SpikeFactor:     c.Insights.SpikeFactor,
			DropFactor:      c.Insights.DropFactor,
			ClusterMinPaths: c.Insights.ClusterMinPaths,
		},
	}
}

type ConfigValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s = %v - %s", e.Field, e.Value, e.Reason)
}

// HotReloader re-applies the config file to a running engine.
//
// Reload Flow:
//  1. viper detects the change through fsnotify and re-reads the file
//  2. The new config is decoded and validated
//  3. On success the engine options are swapped atomically and OnReload runs
//  4. On failure the previous options stay in effect
type HotReloader struct {
	v        *viper.Viper
	engine   *Engine
	onReload func(*Config)

	mu      sync.Mutex
	current *Config
}

func NewHotReloader(v *viper.Viper, engine *Engine, current *Config, onReload func(*Config)) *HotReloader {
	return &HotReloader{
		v:        v,
		engine:   engine,
		onReload: onReload,
		current:  current,
	}
}

// Start registers the change callback and begins watching the config file.
func (h *HotReloader) Start() {
	h.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().
			Str("file", e.Name).
			Str("op", e.Op.String()).
			Msg("Config file changed, reloading")
		if err := h.Reload(); err != nil {
			log.Error().Err(err).Msg("Invalid configuration, keeping current options")
		}
	})
	h.v.WatchConfig()
	log.Info().Str("config", h.v.ConfigFileUsed()).Msg("Config watching started")
}

// Reload decodes the current viper state and applies it. The engine is left
// untouched when the new config does not validate.
func (h *HotReloader) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg, err := LoadConfig(h.v)
	if err != nil {
		return err
	}

	h.engine.SetOptions(cfg.Options())
	h.current = cfg
	if h.onReload != nil {
		h.onReload(cfg)
	}

	log.Info().
		Float64("outlier_k", cfg.Detection.OutlierK).
		Int("burst_threshold", cfg.Detection.Burst.Threshold).
		Str("session_key", cfg.Detection.Session.Key).
		Msg("Configuration reloaded")
	return nil
}

// Current returns the last config that was applied successfully.
func (h *HotReloader) Current() *Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}
