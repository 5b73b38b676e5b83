package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds all engine configuration
type Config struct {
	Cache    CacheConfig    `mapstructure:"cache"`
	Render   RenderConfig   `mapstructure:"render"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CacheConfig bounds the per-session memory tier
type CacheConfig struct {
	SectionBudgetMB   int    `mapstructure:"section_budget_mb"`   // Decoded unit budget
	SectionMaxEntries int    `mapstructure:"section_max_entries"` // Decoded unit count ceiling
	ResourceBudgetMB  int    `mapstructure:"resource_budget_mb"`  // Shared resource budget
	BitmapBudgetMB    int    `mapstructure:"bitmap_budget_mb"`    // Rasterized page budget
	BitmapMaxEntries  int    `mapstructure:"bitmap_max_entries"`  // Rasterized page count ceiling
	IdleExpirySeconds int    `mapstructure:"idle_expiry_seconds"` // 0 disables idle expiry
	StoreDir          string `mapstructure:"store_dir"`           // Persistent store directory ("" = default)
}

// RenderConfig tunes the render pipeline
type RenderConfig struct {
	PreloadLookahead int     `mapstructure:"preload_lookahead"` // Predicted units to warm per render
	ReadyTimeoutMS   int     `mapstructure:"ready_timeout_ms"`  // Document load wait ceiling
	ReadyIntervalMS  int     `mapstructure:"ready_interval_ms"` // Document load poll step
	DefaultScale     float64 `mapstructure:"default_scale"`
	DefaultTheme     string  `mapstructure:"default_theme"`
}

// ProgressConfig exposes the position-conversion heuristics. Both values
// are layout tuning, not derived limits.
type ProgressConfig struct {
	EndFraction       float64 `mapstructure:"end_fraction"`        // Largest in-unit fraction
	BottomThresholdPx float64 `mapstructure:"bottom_threshold_px"` // "Finished" distance from absolute bottom
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			SectionBudgetMB:   64,
			SectionMaxEntries: 32,
			ResourceBudgetMB:  32,
			BitmapBudgetMB:    128,
			BitmapMaxEntries:  16,
			IdleExpirySeconds: 0,
			StoreDir:          defaultStorePath(),
		},
		Render: RenderConfig{
			PreloadLookahead: 2,
			ReadyTimeoutMS:   5000,
			ReadyIntervalMS:  100,
			DefaultScale:     1.0,
			DefaultTheme:     "light",
		},
		Progress: ProgressConfig{
			EndFraction:       0.999999,
			BottomThresholdPx: 50,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "folio", "folio.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "folio", "folio.log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "folio")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "folio")
	}
}

// defaultStorePath returns the default persistent store directory
func defaultStorePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "folio", "store")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "folio", "store")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("FOLIO")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// ClearStore removes the on-disk page store
func ClearStore(cfg *Config) error {
	dir := cfg.Cache.StoreDir
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}
