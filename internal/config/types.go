package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as a string ("30s")
// in both JSON and YAML config files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Bare numbers are nanoseconds
		var n int64
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level       string   `json:"level" yaml:"level"`                                   // debug, info, warn, error
	Format      string   `json:"format" yaml:"format"`                                 // json or console
	OutputPaths []string `json:"output_paths,omitempty" yaml:"output_paths,omitempty"` // Defaults to stderr
}

// RedisConfig configures the Redis persistence driver.
type RedisConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	Password       string   `json:"password,omitempty" yaml:"password,omitempty"`
	DB             int      `json:"db" yaml:"db"`
	Prefix         string   `json:"prefix" yaml:"prefix"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout"` // Total time spent retrying the startup ping
}

// PersistenceConfig selects where workflow state is written.
type PersistenceConfig struct {
	Driver     string      `json:"driver" yaml:"driver"`                               // sqlite, file, or redis
	SQLitePath string      `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"` // Defaults to <data_dir>/crew.db
	FileDir    string      `json:"file_dir,omitempty" yaml:"file_dir,omitempty"`       // Defaults to <data_dir>
	Redis      RedisConfig `json:"redis" yaml:"redis"`
}

// BreakerConfig configures the completion provider circuit breaker.
type BreakerConfig struct {
	MaxFailures int      `json:"max_failures" yaml:"max_failures"` // Consecutive failures before opening (0 disables)
	OpenTimeout Duration `json:"open_timeout" yaml:"open_timeout"` // Time spent open before probing
}

// ProviderConfig defines how task results are produced.
type ProviderConfig struct {
	Type      string        `json:"type" yaml:"type"`                           // cli or echo
	Command   string        `json:"command,omitempty" yaml:"command,omitempty"` // CLI binary (e.g., "claude")
	Args      []string      `json:"args,omitempty" yaml:"args,omitempty"`       // May contain {system} and {user}
	Output    string        `json:"output,omitempty" yaml:"output,omitempty"`   // json or text
	Model     string        `json:"model,omitempty" yaml:"model,omitempty"`     // Appended as --model when set
	Timeout   Duration      `json:"timeout" yaml:"timeout"`                     // Per-call timeout
	RateLimit float64       `json:"rate_limit" yaml:"rate_limit"`               // Calls per second (0 = unlimited)
	Burst     int           `json:"burst" yaml:"burst"`
	Breaker   BreakerConfig `json:"breaker" yaml:"breaker"`
}

// RoleConfig overrides the system instruction for an agent role.
type RoleConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// SchedulerConfig tunes assignment and execution.
type SchedulerConfig struct {
	Strategy     string   `json:"strategy" yaml:"strategy"`           // first_idle, skill_match, least_loaded
	TaskTimeout  Duration `json:"task_timeout" yaml:"task_timeout"`   // 0 disables
	StrictAssign bool     `json:"strict_assign" yaml:"strict_assign"` // Reject direct assignment of unready tasks
	Concurrency  int      `json:"concurrency" yaml:"concurrency"`     // Parallel provider calls in parallel runs
	RunPrompt    string   `json:"run_prompt" yaml:"run_prompt"`       // Extra prompt used by full-workflow runs
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // e.g. ":9090"; empty disables
}

// IDConfig controls generated identifiers.
type IDConfig struct {
	Length int `json:"length" yaml:"length"` // Characters kept from each UUID (0 = full)
}

// Config is the top-level configuration.
type Config struct {
	DataDir     string                `json:"data_dir" yaml:"data_dir"`
	Log         LogConfig             `json:"log" yaml:"log"`
	Persistence PersistenceConfig     `json:"persistence" yaml:"persistence"`
	Provider    ProviderConfig        `json:"provider" yaml:"provider"`
	Roles       map[string]RoleConfig `json:"roles" yaml:"roles"`
	Scheduler   SchedulerConfig       `json:"scheduler" yaml:"scheduler"`
	Metrics     MetricsConfig         `json:"metrics" yaml:"metrics"`
	IDs         IDConfig              `json:"ids" yaml:"ids"`
}
