package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed files
// return an error.
func Load(globalPath, projectPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Paths are the config files a process reads and the settings pane writes.
type Paths struct {
	Global  string
	Project string
}

// DefaultPaths returns the conventional config locations:
// ~/.crew/config.yaml and .crew/config.yaml relative to cwd. An existing
// config.yml or config.json in either directory takes the place of the
// YAML name.
func DefaultPaths() (Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("getting home directory: %w", err)
	}
	return Paths{
		Global:  findConfigFile(filepath.Join(homeDir, ".crew")),
		Project: findConfigFile(".crew"),
	}, nil
}

// LoadDefault loads configuration from DefaultPaths.
func LoadDefault() (*Config, Paths, error) {
	paths, err := DefaultPaths()
	if err != nil {
		return nil, Paths{}, err
	}
	cfg, err := Load(paths.Global, paths.Project)
	if err != nil {
		return nil, paths, err
	}
	return cfg, paths, nil
}

// findConfigFile returns the first config file present in dir, preferring
// YAML. When none exists it returns dir/config.yaml.
func findConfigFile(dir string) string {
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(dir, "config.yaml")
}

// mergeConfigFile decodes a YAML or JSON file on top of base. Scalars present
// in the file replace the base value, maps merge key by key.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil // Missing file is not an error
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, base); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, base); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

// applyEnv applies CREW_* environment overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CREW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CREW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CREW_PERSISTENCE_DRIVER"); v != "" {
		cfg.Persistence.Driver = v
	}
	if v := os.Getenv("CREW_REDIS_ADDR"); v != "" {
		cfg.Persistence.Redis.Addr = v
	}
}

// Validate rejects unknown enum values and nonsensical limits.
func (c *Config) Validate() error {
	var errs []error
	if !oneOf(c.Log.Level, "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if !oneOf(c.Log.Format, "json", "console") {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if !oneOf(c.Persistence.Driver, "sqlite", "file", "redis") {
		errs = append(errs, fmt.Errorf("persistence.driver: unknown driver %q", c.Persistence.Driver))
	}
	if !oneOf(c.Provider.Type, "cli", "echo") {
		errs = append(errs, fmt.Errorf("provider.type: unknown type %q", c.Provider.Type))
	}
	if c.Provider.Type == "cli" {
		if c.Provider.Command == "" {
			errs = append(errs, errors.New("provider.command: required for cli provider"))
		}
		if !oneOf(c.Provider.Output, "json", "text") {
			errs = append(errs, fmt.Errorf("provider.output: unknown output %q", c.Provider.Output))
		}
	}
	if c.Provider.RateLimit < 0 {
		errs = append(errs, errors.New("provider.rate_limit: must not be negative"))
	}
	if !oneOf(c.Scheduler.Strategy, "first_idle", "skill_match", "least_loaded") {
		errs = append(errs, fmt.Errorf("scheduler.strategy: unknown strategy %q", c.Scheduler.Strategy))
	}
	if c.Scheduler.Concurrency < 1 {
		errs = append(errs, errors.New("scheduler.concurrency: must be at least 1"))
	}
	if c.Scheduler.TaskTimeout < 0 {
		errs = append(errs, errors.New("scheduler.task_timeout: must not be negative"))
	}
	if c.IDs.Length < 0 {
		errs = append(errs, errors.New("ids.length: must not be negative"))
	}
	return errors.Join(errs...)
}

// ResolvedDataDir returns DataDir with a leading ~ expanded.
func (c *Config) ResolvedDataDir() string {
	return ExpandHome(c.DataDir)
}

// SQLitePath returns the database path, defaulting into the data directory.
func (c *Config) SQLitePath() string {
	if c.Persistence.SQLitePath != "" {
		return ExpandHome(c.Persistence.SQLitePath)
	}
	return filepath.Join(c.ResolvedDataDir(), "crew.db")
}

// FileDir returns the file gateway directory, defaulting to the data directory.
func (c *Config) FileDir() string {
	if c.Persistence.FileDir != "" {
		return ExpandHome(c.Persistence.FileDir)
	}
	return c.ResolvedDataDir()
}

// SystemPrompt returns the configured instruction for role, if any.
func (c *Config) SystemPrompt(role string) string {
	return c.Roles[role].SystemPrompt
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
