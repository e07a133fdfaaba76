package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dshills/commitgate/internal/logging"
	"github.com/dshills/commitgate/internal/metadata"
	"github.com/dshills/commitgate/internal/risk"
)

// EnvPrefix prefixes every environment override, e.g. COMMITGATE_PROVIDER
// or COMMITGATE_GENERATION_MAX_TOKENS.
const EnvPrefix = "COMMITGATE"

// Config represents the commitgate configuration.
type Config struct {
	Provider       string   `yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=anthropic openai gemini google ollama lmstudio none"`
	Model          string   `yaml:"model" mapstructure:"model"`
	Format         string   `yaml:"format" mapstructure:"format" validate:"oneof=text json markdown sarif"`
	ContextLines   int      `yaml:"context_lines" mapstructure:"context_lines" validate:"gte=0,lte=100"`
	MaxDiffBytes   int      `yaml:"max_diff_bytes" mapstructure:"max_diff_bytes" validate:"gte=0"`
	Exclude        []string `yaml:"exclude" mapstructure:"exclude"`
	RequiredFields []string `yaml:"required_fields" mapstructure:"required_fields" validate:"dive,required"`

	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Log        logging.Config   `yaml:"log" mapstructure:"log"`
	Risk       RiskConfig       `yaml:"risk" mapstructure:"risk"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Catalogs   CatalogConfig    `yaml:"catalogs" mapstructure:"catalogs"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Bisect     BisectConfig     `yaml:"bisect" mapstructure:"bisect"`
}

// GenerationConfig controls message generation calls.
type GenerationConfig struct {
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	Burst       int           `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
	// MaxRetries below zero disables retries.
	MaxRetries  int `yaml:"max_retries" mapstructure:"max_retries"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1,lte=64"`
	// ChunkBudget overrides the token budget derived from the model.
	ChunkBudget int `yaml:"chunk_budget" mapstructure:"chunk_budget" validate:"gte=0"`
}

// CacheConfig controls the generation cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"gte=0"`
}

// RiskConfig tunes the risk scorer.
type RiskConfig struct {
	Tiers         risk.TierConfig `yaml:"tiers" mapstructure:"tiers"`
	Thresholds    risk.Thresholds `yaml:"thresholds" mapstructure:"thresholds"`
	HistoryWindow int             `yaml:"history_window" mapstructure:"history_window" validate:"gte=1"`
}

// AuditConfig locates the audit database. An empty path selects the
// default under the state directory.
type AuditConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MetricsConfig controls the Prometheus textfile export. An empty
// textfile disables the export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// CatalogConfig points at replacement pattern and code catalogs. Empty
// paths select the embedded defaults.
type CatalogConfig struct {
	Patterns string `yaml:"patterns" mapstructure:"patterns"`
	Codes    string `yaml:"codes" mapstructure:"codes"`
	// Watch reloads the code catalog when its file changes.
	Watch bool `yaml:"watch" mapstructure:"watch"`
}

// PolicyConfig names an external policy command. Empty disables it.
type PolicyConfig struct {
	Command string `yaml:"command" mapstructure:"command"`
}

// BisectConfig holds bisect engine defaults.
type BisectConfig struct {
	MaxErrors int  `yaml:"max_errors" mapstructure:"max_errors" validate:"gte=1"`
	Verify    bool `yaml:"verify" mapstructure:"verify"`
	Confirm   bool `yaml:"confirm" mapstructure:"confirm"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Provider:       "anthropic",
		Format:         "text",
		ContextLines:   3,
		MaxDiffBytes:   500000,
		Exclude:        []string{"vendor/**", "**/*.gen.go", "**/dist/**"},
		RequiredFields: append([]string(nil), metadata.DefaultRequired...),
		Generation: GenerationConfig{
			Timeout:     120 * time.Second,
			MaxTokens:   1024,
			Temperature: 0.2,
			RateLimit:   2,
			Burst:       2,
			MaxRetries:  3,
			Concurrency: 4,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
		},
		Log: logging.DefaultConfig(),
		Risk: RiskConfig{
			Tiers:         risk.DefaultTierConfig(),
			Thresholds:    risk.DefaultThresholds(),
			HistoryWindow: 50,
		},
		Bisect: BisectConfig{MaxErrors: 3},
	}
}

// ConfigDir returns the platform-appropriate config directory for commitgate.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "commitgate"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "commitgate"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "commitgate"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "commitgate"), nil
	default:
		return filepath.Join(home, ".config", "commitgate"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// StateDir holds the audit database.
func StateDir() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "commitgate"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "commitgate"), nil
}

// AuditPath returns the configured audit database path or the default.
func (c Config) AuditPath() (string, error) {
	if c.Audit.Path != "" {
		return c.Audit.Path, nil
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit.db"), nil
}

// Load builds the effective config by merging:
// defaults <- file <- env <- overrides.
// An empty file selects ConfigPath; a missing file is not an error.
// Override keys are dotted, e.g. "generation.max_tokens".
func Load(file string, overrides map[string]string) (Config, error) {
	if file == "" {
		p, err := ConfigPath()
		if err != nil {
			return Config{}, err
		}
		file = p
	}

	v, err := newViper(Default())
	if err != nil {
		return Config{}, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(file); err == nil {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	for _, k := range sortedKeys(overrides) {
		if overrides[k] == "" {
			continue
		}
		if err := setKey(v, k, overrides[k]); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile loads only the config file at path, on top of the defaults.
// It returns the defaults if the file doesn't exist.
func LoadFile(path string) (Config, error) {
	v, err := newViper(Default())
	if err != nil {
		return Config{}, err
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the directory as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// SetField sets a single config field by dotted key. Returns error if the
// key is unknown or the result does not validate.
func SetField(cfg *Config, key, value string) error {
	v, err := newViper(*cfg)
	if err != nil {
		return err
	}
	if err := setKey(v, key, value); err != nil {
		return err
	}
	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := Validate(out); err != nil {
		return err
	}
	*cfg = out
	return nil
}

// Keys lists every settable dotted key.
func Keys() []string {
	flat, err := flatten(Default())
	if err != nil {
		return nil
	}
	return sortedKeys(flat)
}

// Validate checks cfg's field constraints.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("configuration validation error: %w", err)
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := fmt.Sprintf("%s: rule '%s'", strings.TrimPrefix(e.Namespace(), "Config."), e.Tag())
		if e.Param() != "" {
			msg += fmt.Sprintf(" (expected: %s)", e.Param())
		}
		if e.Value() != nil && e.Value() != "" {
			msg += fmt.Sprintf(", actual: '%v'", e.Value())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("configuration validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		th := sl.Current().Interface().(risk.Thresholds)
		if th.Medium <= 0 || th.High <= th.Medium || th.Critical <= th.High || th.Critical > 100 {
			sl.ReportError(th, "Thresholds", "Thresholds", "ordered", "0<medium<high<critical<=100")
		}
	}, risk.Thresholds{})
	return v
}

// newViper returns an instance whose defaults are base, flattened to
// dotted keys so environment lookups and overrides see every leaf.
func newViper(base Config) (*viper.Viper, error) {
	flat, err := flatten(base)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	for k, val := range flat {
		v.SetDefault(k, val)
	}
	return v, nil
}

func setKey(v *viper.Viper, key, value string) error {
	if !v.IsSet(key) || isBranch(v, key) {
		return fmt.Errorf("unknown config key: %s", key)
	}
	v.Set(key, value)
	return nil
}

func isBranch(v *viper.Viper, key string) bool {
	_, ok := v.Get(key).(map[string]any)
	return ok
}

func flatten(cfg Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	out := map[string]any{}
	flattenInto(out, "", tree)
	return out, nil
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flattenInto(out, key, sub)
			continue
		}
		out[key] = val
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
