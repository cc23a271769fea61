package config

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds all tuning knobs for the engine. It is loaded once at
// startup and passed by value into the components that need it; nothing
// reads ambient process state after Load returns.
type Config struct {
	SaveRoot   string `mapstructure:"save_root"`
	IndexPath  string `mapstructure:"index_path"`
	BeforeHour int    `mapstructure:"time_before_hour"`
	AfterHour  int    `mapstructure:"time_after_hour"`

	// Fast-path matching knobs. Smaller MaxSide/NFeatures trade
	// matching accuracy for throughput.
	MaxSide   int     `mapstructure:"fast_max_side"`
	NFeatures int     `mapstructure:"fast_nfeatures"`
	TopK      int     `mapstructure:"fast_topk"`
	Ratio     float64 `mapstructure:"fast_ratio"`
	Prefilter bool    `mapstructure:"fast_prefilter"`
	MinScore  float64 `mapstructure:"match_min_score"`

	MaxWorkers int    `mapstructure:"max_workers"`
	HTTPAddr   string `mapstructure:"http_addr"`
	WatchDir   string `mapstructure:"watch_dir"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`
}

// Load reads configuration from the environment (and an optional
// photoreport.yaml next to the binary) and validates it. Invalid hour
// windows and a missing save root are fatal here rather than surfacing
// later as silently empty reports.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("photoreport")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/photoreport/")

	// The deployment sets these exact keys; no prefix.
	for _, key := range []string{
		"SAVE_ROOT", "INDEX_PATH", "TIME_BEFORE_HOUR", "TIME_AFTER_HOUR",
		"FAST_MAX_SIDE", "FAST_NFEATURES", "FAST_TOPK", "FAST_RATIO",
		"FAST_PREFILTER", "MATCH_MIN_SCORE", "MAX_WORKERS", "HTTP_ADDR",
		"WATCH_DIR", "LOG_LEVEL", "LOG_FORMAT",
	} {
		if err := v.BindEnv(keyName(key), key); err != nil {
			return nil, err
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.SaveRoot, "photos.db")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// keyName maps an environment key to its viper key (lowercased so it
// lines up with the mapstructure tags).
func keyName(env string) string {
	out := make([]byte, len(env))
	for i := 0; i < len(env); i++ {
		c := env[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("time_before_hour", 12)
	v.SetDefault("time_after_hour", 15)
	v.SetDefault("fast_max_side", 1600)
	v.SetDefault("fast_nfeatures", 600)
	v.SetDefault("fast_topk", 5)
	v.SetDefault("fast_ratio", 0.75)
	v.SetDefault("fast_prefilter", false)
	v.SetDefault("match_min_score", 0.0)
	v.SetDefault("max_workers", runtime.NumCPU())
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Validate checks invariants the rest of the engine relies on. A window
// where before >= after would reject every submission, so it is treated
// as a configuration error instead.
func Validate(cfg *Config) error {
	if cfg.SaveRoot == "" {
		return fmt.Errorf("SAVE_ROOT is required")
	}
	if cfg.BeforeHour < 0 || cfg.BeforeHour > 23 {
		return fmt.Errorf("TIME_BEFORE_HOUR must be in 0..23, got %d", cfg.BeforeHour)
	}
	if cfg.AfterHour < 0 || cfg.AfterHour > 23 {
		return fmt.Errorf("TIME_AFTER_HOUR must be in 0..23, got %d", cfg.AfterHour)
	}
	if cfg.BeforeHour >= cfg.AfterHour {
		return fmt.Errorf("hour window degenerate: TIME_BEFORE_HOUR (%d) must be less than TIME_AFTER_HOUR (%d)",
			cfg.BeforeHour, cfg.AfterHour)
	}
	if cfg.MaxSide <= 0 {
		return fmt.Errorf("FAST_MAX_SIDE must be positive, got %d", cfg.MaxSide)
	}
	if cfg.NFeatures <= 0 {
		return fmt.Errorf("FAST_NFEATURES must be positive, got %d", cfg.NFeatures)
	}
	if cfg.TopK <= 0 {
		return fmt.Errorf("FAST_TOPK must be positive, got %d", cfg.TopK)
	}
	if cfg.Ratio <= 0 || cfg.Ratio >= 1 {
		return fmt.Errorf("FAST_RATIO must be in (0, 1), got %g", cfg.Ratio)
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return fmt.Errorf("MATCH_MIN_SCORE must be in [0, 1], got %g", cfg.MinScore)
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	return nil
}
