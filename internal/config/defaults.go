package config

import "time"

// DefaultRunPrompt is appended to every task instruction during full-workflow runs.
const DefaultRunPrompt = "Complete this task while collaborating with other agents in this workflow."

// DefaultConfig returns the default configuration with built-in role prompts.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "~/.crew",
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
		Persistence: PersistenceConfig{
			Driver: "sqlite",
			Redis: RedisConfig{
				Addr:           "localhost:6379",
				Prefix:         "crew:",
				ConnectTimeout: Duration(10 * time.Second),
			},
		},
		Provider: ProviderConfig{
			Type:    "cli",
			Command: "claude",
			Args:    []string{"-p", "{user}", "--output-format", "json", "--system-prompt", "{system}"},
			Output:  "json",
			Timeout: Duration(5 * time.Minute),
			Burst:   1,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: Duration(30 * time.Second),
			},
		},
		Roles: map[string]RoleConfig{
			"coordinator": {SystemPrompt: "You are a coordinator agent responsible for planning and managing tasks."},
			"researcher":  {SystemPrompt: "You are a researcher agent responsible for gathering and synthesizing information."},
			"analyzer":    {SystemPrompt: "You are an analyzer agent responsible for examining data and extracting insights."},
			"writer":      {SystemPrompt: "You are a writer agent responsible for creating well-written content."},
			"critic":      {SystemPrompt: "You are a critic agent responsible for reviewing and providing constructive feedback."},
		},
		Scheduler: SchedulerConfig{
			Strategy:    "first_idle",
			TaskTimeout: Duration(10 * time.Minute),
			Concurrency: 4,
			RunPrompt:   DefaultRunPrompt,
		},
		IDs: IDConfig{Length: 8},
	}
}
