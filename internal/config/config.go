// Package config handles configuration loading and management for kbaudit.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/kbaudit/internal/phases"
)

// ProjectConfigName is the project-level config file searched for upward
// from the working directory.
const ProjectConfigName = ".kbaudit.yaml"

// Reviewer providers.
const (
	ProviderNone      = "none"
	ProviderFile      = "file"
	ProviderAnthropic = "anthropic"
)

// ErrUnknownKey is returned for config keys kbaudit does not define.
var ErrUnknownKey = errors.New("unknown config key")

// Config holds all configuration for kbaudit.
type Config struct {
	Library  LibraryConfig  `mapstructure:"library"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Fix      FixConfig      `mapstructure:"fix"`
	Reviewer ReviewerConfig `mapstructure:"reviewer"`
	State    StateConfig    `mapstructure:"state"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	// ProjectFile is the project config that was merged, if any.
	ProjectFile string `mapstructure:"-"`
}

// LibraryConfig holds the entry locations.
type LibraryConfig struct {
	Primary  string   `mapstructure:"primary"`
	Extended string   `mapstructure:"extended"`
	Patterns []string `mapstructure:"patterns"`
}

// AuditConfig holds audit engine settings.
type AuditConfig struct {
	Scope   string `mapstructure:"scope"`
	Workers int    `mapstructure:"workers"`
}

// FixConfig holds fix-loop settings.
type FixConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	DryRun  bool          `mapstructure:"dry_run"`
	// Parallel bounds how many entries are fixed at once.
	Parallel int `mapstructure:"parallel"`
}

// ReviewerConfig selects where semantic findings come from.
type ReviewerConfig struct {
	Provider   string `mapstructure:"provider"`
	File       string `mapstructure:"file"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	Bedrock    bool   `mapstructure:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// StateConfig holds the progress store location.
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig holds the textfile collector output path. Empty disables
// metrics output.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// defaults is the single source of default values and of known keys.
var defaults = map[string]any{
	"library.primary":      "kb/primary",
	"library.extended":     "kb/extended",
	"library.patterns":     []string{},
	"audit.scope":          string(phases.ScopeFull),
	"audit.workers":        4,
	"fix.timeout":          "10m",
	"fix.dry_run":          false,
	"fix.parallel":         2,
	"reviewer.provider":    ProviderNone,
	"reviewer.file":        "",
	"reviewer.model":       "",
	"reviewer.api_key":     "",
	"reviewer.bedrock":     false,
	"reviewer.aws_region":  "",
	"reviewer.aws_profile": "",
	"state.dir":            ".kbaudit",
	"metrics.textfile":     "",
}

// Keys returns every known config key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KnownKey reports whether key is a config key.
func KnownKey(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (KBAUDIT_*, ANTHROPIC_API_KEY)
// 2. Project config (.kbaudit.yaml in current directory or parent)
// 3. User config (~/.config/kbaudit/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v, project, err := newViper()
	if err != nil {
		return nil, err
	}
	return unmarshal(v, project)
}

// Get returns the effective value of one key.
func Get(key string) (any, error) {
	if !KnownKey(key) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	v, _, err := newViper()
	if err != nil {
		return nil, err
	}
	return v.Get(key), nil
}

func newViper() (*viper.Viper, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, "", fmt.Errorf("reading user config: %w", err)
		}
	}

	project := findProjectConfig()
	if project != "" {
		pv := viper.New()
		pv.SetConfigFile(project)
		if err := pv.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("reading project config %s: %w", project, err)
		}
		if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
			return nil, "", fmt.Errorf("merging project config: %w", err)
		}
	}

	v.SetEnvPrefix("KBAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("reviewer.api_key", "KBAUDIT_REVIEWER_API_KEY", "ANTHROPIC_API_KEY")

	return v, project, nil
}

func unmarshal(v *viper.Viper, project string) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.ProjectFile = project
	cfg.Reviewer.APIKey = expandEnv(cfg.Reviewer.APIKey)
	if project != "" {
		cfg.resolveRelative(filepath.Dir(project))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path, on top of the
// defaults. Relative paths resolve against the file's directory.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v, path)
}

// resolveRelative anchors relative paths from a project config at the
// directory holding it, so commands work from any subdirectory.
func (c *Config) resolveRelative(base string) {
	for _, p := range []*string{&c.Library.Primary, &c.Library.Extended, &c.State.Dir, &c.Reviewer.File, &c.Metrics.Textfile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// AnchorStateDir resolves a relative state directory against the
// directory holding the primary library root, so every process working on
// one library shares its locks and progress whatever its working
// directory. Absolute and empty values are left alone.
func (c *Config) AnchorStateDir() {
	if c.State.Dir == "" || filepath.IsAbs(c.State.Dir) {
		return
	}
	root, err := filepath.Abs(c.Library.Primary)
	if err != nil {
		return
	}
	c.State.Dir = filepath.Join(filepath.Dir(root), c.State.Dir)
}

// Validate checks values that have a closed set of options.
func (c *Config) Validate() error {
	if _, err := phases.ParseScope(c.Audit.Scope); err != nil {
		return fmt.Errorf("audit.scope: %w", err)
	}
	if !slices.Contains([]string{ProviderNone, ProviderFile, ProviderAnthropic}, c.Reviewer.Provider) {
		return fmt.Errorf("reviewer.provider: %q is not one of none, file, anthropic", c.Reviewer.Provider)
	}
	if c.Reviewer.Provider == ProviderFile && c.Reviewer.File == "" {
		return errors.New("reviewer.file must be set when reviewer.provider is file")
	}
	if c.Audit.Workers < 0 || c.Fix.Parallel < 0 {
		return errors.New("audit.workers and fix.parallel may not be negative")
	}
	if c.Fix.Timeout < 0 {
		return errors.New("fix.timeout may not be negative")
	}
	return nil
}

// Set writes one key to the user config file, keeping the others.
func Set(key, value string) error {
	if !KnownKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	dir := getUserConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading user config: %w", err)
		}
	}

	switch defaults[key].(type) {
	case []string:
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		v.Set(key, items)
	default:
		v.Set(key, value)
	}

	check := viper.New()
	setDefaults(check)
	if err := check.MergeConfigMap(v.AllSettings()); err != nil {
		return fmt.Errorf("merging user config: %w", err)
	}
	if _, err := unmarshal(check, ""); err != nil {
		return err
	}
	return v.WriteConfigAs(path)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// getUserConfigDir returns the XDG config directory for kbaudit.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "kbaudit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "kbaudit")
	}
	return filepath.Join(home, ".config", "kbaudit")
}

// findProjectConfig searches for .kbaudit.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Library: LibraryConfig{Primary: "kb/primary", Extended: "kb/extended"},
		Audit:   AuditConfig{Scope: string(phases.ScopeFull), Workers: 4},
		Fix:     FixConfig{Timeout: 10 * time.Minute, Parallel: 2},
		Reviewer: ReviewerConfig{
			Provider: ProviderNone,
		},
		State: StateConfig{Dir: ".kbaudit"},
	}
}
