package config

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	cerrors "github.com/archival/canonicalize/errors"
)

// SelectionWeights holds the five canonical-selector weights (OCR quality,
// redaction penalty, completeness, source authority, file quality). They
// must sum close to 1.0; Load fails fast (ErrConfiguration) otherwise.
type SelectionWeights struct {
	OCRQuality   float64 `mapstructure:"OCR_QUALITY"`
	Redactions   float64 `mapstructure:"REDACTIONS"`
	Completeness float64 `mapstructure:"COMPLETENESS"`
	Authority    float64 `mapstructure:"AUTHORITY"`
	FileQuality  float64 `mapstructure:"FILE_QUALITY"`
}

// QualityWeights holds the three quality-assessor weights (word validity,
// corruption, line-break health) that combine into ocr_quality.
type QualityWeights struct {
	Word       float64 `mapstructure:"WORD"`
	Corruption float64 `mapstructure:"CORRUPTION"`
	Line       float64 `mapstructure:"LINE"`
}

// Config holds the engine's configuration, loaded from a YAML file, flags,
// and environment variables (the env vars mirror the mapstructure keys
// with the CANON_ prefix, via viper.AutomaticEnv()).
type Config struct {
	// StorePath is the index store's Postgres connection string. LockPath
	// is the single-writer sentinel file guarding it.
	StorePath  string `mapstructure:"STORE_PATH"`
	LockPath   string `mapstructure:"LOCK_PATH"`
	OutputRoot string `mapstructure:"OUTPUT_ROOT"`

	FuzzyThreshold     float64 `mapstructure:"FUZZY_THRESHOLD"`
	MetadataThreshold  float64 `mapstructure:"METADATA_THRESHOLD"`
	PartialOverlapMin  float64 `mapstructure:"PARTIAL_OVERLAP_MIN"`
	PartialOverlapMax  float64 `mapstructure:"PARTIAL_OVERLAP_MAX"`
	MinOCRQuality      float64 `mapstructure:"MIN_OCR_QUALITY"`
	BatchSize          int     `mapstructure:"BATCH_SIZE"`
	SkipFuzzy          bool    `mapstructure:"SKIP_FUZZY"`
	Workers            int     `mapstructure:"WORKERS"`
	ProgressIntervalMS int     `mapstructure:"PROGRESS_INTERVAL_MS"`
	FileTimeoutSeconds int     `mapstructure:"FILE_TIMEOUT_SECONDS"`
	StoreLockRetries   int     `mapstructure:"STORE_LOCK_RETRIES"`
	ReportErrorSample  int     `mapstructure:"REPORT_ERROR_SAMPLE"`

	SelectionWeights SelectionWeights `mapstructure:"SELECTION_WEIGHTS"`
	QualityWeights   QualityWeights   `mapstructure:"QUALITY_WEIGHTS"`
}

// Load reads configuration from ./config.yaml (or CANON_-prefixed env vars),
// applies defaults for every recognized key, and validates ranges. A
// configuration error is fatal at startup rather than recovered per-run.
func Load(logger *zap.Logger, configPath string) (*Config, error) {
	var cfg Config
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvPrefix("CANON")
	viper.AutomaticEnv()

	viper.SetDefault("STORE_PATH", "postgres://localhost:5432/canonical_index?sslmode=disable")
	viper.SetDefault("LOCK_PATH", "canonical_index.lock")
	viper.SetDefault("OUTPUT_ROOT", "canonical-store")

	viper.SetDefault("FUZZY_THRESHOLD", 0.90)
	viper.SetDefault("METADATA_THRESHOLD", 0.95)
	viper.SetDefault("PARTIAL_OVERLAP_MIN", 0.10)
	viper.SetDefault("PARTIAL_OVERLAP_MAX", 0.90)
	viper.SetDefault("MIN_OCR_QUALITY", 0.70)
	viper.SetDefault("BATCH_SIZE", 100)
	viper.SetDefault("SKIP_FUZZY", false)
	viper.SetDefault("WORKERS", 1)
	viper.SetDefault("PROGRESS_INTERVAL_MS", 1000)
	viper.SetDefault("FILE_TIMEOUT_SECONDS", 60)
	viper.SetDefault("STORE_LOCK_RETRIES", 5)
	viper.SetDefault("REPORT_ERROR_SAMPLE", 20)

	viper.SetDefault("SELECTION_WEIGHTS.OCR_QUALITY", 0.40)
	viper.SetDefault("SELECTION_WEIGHTS.REDACTIONS", 0.25)
	viper.SetDefault("SELECTION_WEIGHTS.COMPLETENESS", 0.20)
	viper.SetDefault("SELECTION_WEIGHTS.AUTHORITY", 0.10)
	viper.SetDefault("SELECTION_WEIGHTS.FILE_QUALITY", 0.05)

	viper.SetDefault("QUALITY_WEIGHTS.WORD", 0.5)
	viper.SetDefault("QUALITY_WEIGHTS.CORRUPTION", 0.3)
	viper.SetDefault("QUALITY_WEIGHTS.LINE", 0.2)

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, cerrors.WrapError(err, "failed to read config file")
		}
		if logger != nil {
			logger.Warn("no config file found, using defaults/env vars", zap.Error(err))
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unable to decode config into struct: %v", cerrors.ErrConfiguration, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	inUnit := func(name string, v float64) error {
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("%w: %s must be in [0.0, 1.0], got %v", cerrors.ErrConfiguration, name, v)
		}
		return nil
	}

	checks := []struct {
		name string
		v    float64
	}{
		{"fuzzy_threshold", cfg.FuzzyThreshold},
		{"metadata_threshold", cfg.MetadataThreshold},
		{"partial_overlap_min", cfg.PartialOverlapMin},
		{"partial_overlap_max", cfg.PartialOverlapMax},
		{"min_ocr_quality", cfg.MinOCRQuality},
	}
	for _, c := range checks {
		if err := inUnit(c.name, c.v); err != nil {
			return err
		}
	}

	if cfg.PartialOverlapMin >= cfg.PartialOverlapMax {
		return fmt.Errorf("%w: partial_overlap_min must be < partial_overlap_max", cerrors.ErrConfiguration)
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be >= 1", cerrors.ErrConfiguration)
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1", cerrors.ErrConfiguration)
	}

	sw := cfg.SelectionWeights
	sum := sw.OCRQuality + sw.Redactions + sw.Completeness + sw.Authority + sw.FileQuality
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("%w: selection_weights must sum to ~1.0, got %v", cerrors.ErrConfiguration, sum)
	}

	qw := cfg.QualityWeights
	qsum := qw.Word + qw.Corruption + qw.Line
	if qsum < 0.99 || qsum > 1.01 {
		return fmt.Errorf("%w: quality_weights must sum to ~1.0, got %v", cerrors.ErrConfiguration, qsum)
	}

	return nil
}
