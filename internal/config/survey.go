package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/survey.report/internal/sonar"
)

// DefaultConfigPath is the path to the canonical survey defaults file.
const DefaultConfigPath = "config/survey.defaults.json"

// SurveyConfig holds processing parameters. Every field is optional; the
// Get* methods supply defaults for fields left out of a file.
type SurveyConfig struct {
	// Sidescan normalisation
	Normalization *float64 `json:"normalization,omitempty" yaml:"normalization,omitempty"`
	TVGGain       *float64 `json:"tvg_gain,omitempty" yaml:"tvg_gain,omitempty"`
	MinValue      *float64 `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	WindowValue   *float64 `json:"window_value,omitempty" yaml:"window_value,omitempty"`
	ApplyTVG      *bool    `json:"apply_tvg,omitempty" yaml:"apply_tvg,omitempty"`
	SlantCorrect  *bool    `json:"slant_correct,omitempty" yaml:"slant_correct,omitempty"`

	// Position correction
	JumpFactor *float64 `json:"jump_factor,omitempty" yaml:"jump_factor,omitempty"`

	// Histogram profile
	HistogramSampleLines *int    `json:"histogram_sample_lines,omitempty" yaml:"histogram_sample_lines,omitempty"`
	HistogramWindow      *string `json:"histogram_window,omitempty" yaml:"histogram_window,omitempty"` // duration string like "1s"
	HistogramSeed        *int64  `json:"histogram_seed,omitempty" yaml:"histogram_seed,omitempty"`

	// Cache building
	CacheFlushEvery *int    `json:"cache_flush_every,omitempty" yaml:"cache_flush_every,omitempty"`
	LockTimeout     *string `json:"lock_timeout,omitempty" yaml:"lock_timeout,omitempty"` // duration string like "2m"

	// Bundles processed at once by the CLI.
	Workers *int `json:"workers,omitempty" yaml:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySurveyConfig returns a SurveyConfig with all fields unset.
func EmptySurveyConfig() *SurveyConfig {
	return &SurveyConfig{}
}

// DefaultSurveyConfig returns a config with every defaulted field set.
// The histogram seed stays unset so sampling is random.
func DefaultSurveyConfig() *SurveyConfig {
	return &SurveyConfig{
		Normalization:        ptrFloat64(0.1),
		TVGGain:              ptrFloat64(280),
		MinValue:             ptrFloat64(0),
		WindowValue:          ptrFloat64(1),
		ApplyTVG:             ptrBool(true),
		SlantCorrect:         ptrBool(false),
		JumpFactor:           ptrFloat64(3.0),
		HistogramSampleLines: ptrInt(1000),
		HistogramWindow:      ptrString("1s"),
		CacheFlushEvery:      ptrInt(10),
		LockTimeout:          ptrString("2m"),
		Workers:              ptrInt(4),
	}
}

// LoadSurveyConfig reads a JSON (.json) or YAML (.yaml, .yml) config file
// of at most 1MB and validates it.
func LoadSurveyConfig(path string) (*SurveyConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySurveyConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *SurveyConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/sonar/parser/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSurveyConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the set values are usable.
func (c *SurveyConfig) Validate() error {
	if c.Normalization != nil && *c.Normalization <= 0 {
		return fmt.Errorf("normalization must be positive, got %f", *c.Normalization)
	}
	if c.TVGGain != nil && *c.TVGGain <= 0 {
		return fmt.Errorf("tvg_gain must be positive, got %f", *c.TVGGain)
	}
	if c.MinValue != nil && (*c.MinValue < 0 || *c.MinValue > 1) {
		return fmt.Errorf("min_value must be between 0 and 1, got %f", *c.MinValue)
	}
	if c.WindowValue != nil && (*c.WindowValue <= 0 || *c.WindowValue > 1) {
		return fmt.Errorf("window_value must be in (0, 1], got %f", *c.WindowValue)
	}
	if c.JumpFactor != nil && *c.JumpFactor < 1 {
		return fmt.Errorf("jump_factor must be at least 1, got %f", *c.JumpFactor)
	}
	if c.HistogramSampleLines != nil && *c.HistogramSampleLines <= 0 {
		return fmt.Errorf("histogram_sample_lines must be positive, got %d", *c.HistogramSampleLines)
	}
	if c.CacheFlushEvery != nil && *c.CacheFlushEvery <= 0 {
		return fmt.Errorf("cache_flush_every must be positive, got %d", *c.CacheFlushEvery)
	}
	if c.Workers != nil && *c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", *c.Workers)
	}
	if c.HistogramWindow != nil && *c.HistogramWindow != "" {
		if _, err := time.ParseDuration(*c.HistogramWindow); err != nil {
			return fmt.Errorf("invalid histogram_window '%s': %w", *c.HistogramWindow, err)
		}
	}
	if c.LockTimeout != nil && *c.LockTimeout != "" {
		if _, err := time.ParseDuration(*c.LockTimeout); err != nil {
			return fmt.Errorf("invalid lock_timeout '%s': %w", *c.LockTimeout, err)
		}
	}
	return nil
}

// SidescanParameters returns the normalisation parameters, defaults filled.
func (c *SurveyConfig) SidescanParameters() sonar.SidescanParameters {
	p := sonar.DefaultSidescanParameters()
	if c.Normalization != nil {
		p.Normalization = *c.Normalization
	}
	if c.TVGGain != nil {
		p.TVGGain = *c.TVGGain
	}
	if c.MinValue != nil {
		p.MinValue = *c.MinValue
	}
	if c.WindowValue != nil {
		p.WindowValue = *c.WindowValue
	}
	return p
}

// GetApplyTVG returns the apply_tvg value or the default.
func (c *SurveyConfig) GetApplyTVG() bool {
	if c.ApplyTVG == nil {
		return true
	}
	return *c.ApplyTVG
}

// GetSlantCorrect returns the slant_correct value or the default.
func (c *SurveyConfig) GetSlantCorrect() bool {
	if c.SlantCorrect == nil {
		return false
	}
	return *c.SlantCorrect
}

// GetJumpFactor returns the jump_factor value or the default.
func (c *SurveyConfig) GetJumpFactor() float64 {
	if c.JumpFactor == nil {
		return 3.0
	}
	return *c.JumpFactor
}

// GetHistogramSampleLines returns the histogram_sample_lines value or the default.
func (c *SurveyConfig) GetHistogramSampleLines() int {
	if c.HistogramSampleLines == nil {
		return 1000
	}
	return *c.HistogramSampleLines
}

// GetHistogramWindow parses and returns the HistogramWindow as a time.Duration.
func (c *SurveyConfig) GetHistogramWindow() time.Duration {
	if c.HistogramWindow == nil || *c.HistogramWindow == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.HistogramWindow)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}

// GetHistogramSeed returns the seed and whether one was configured.
func (c *SurveyConfig) GetHistogramSeed() (int64, bool) {
	if c.HistogramSeed == nil {
		return 0, false
	}
	return *c.HistogramSeed, true
}

// GetCacheFlushEvery returns the cache_flush_every value or the default.
func (c *SurveyConfig) GetCacheFlushEvery() int {
	if c.CacheFlushEvery == nil {
		return 10
	}
	return *c.CacheFlushEvery
}

// GetLockTimeout parses and returns the LockTimeout as a time.Duration.
func (c *SurveyConfig) GetLockTimeout() time.Duration {
	if c.LockTimeout == nil || *c.LockTimeout == "" {
		return 2 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.LockTimeout)
	if err != nil {
		return 2 * time.Minute // default on parse error
	}
	return d
}

// GetWorkers returns the workers value or the default.
func (c *SurveyConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}
