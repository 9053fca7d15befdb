package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		global  string // file name and content, empty = absent
		gData   string
		project string
		pData   string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "No config files - returns defaults",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "sqlite", cfg.Persistence.Driver)
				assert.Equal(t, "first_idle", cfg.Scheduler.Strategy)
				assert.Equal(t, 10*time.Minute, cfg.Scheduler.TaskTimeout.Std())
				assert.Len(t, cfg.Roles, 5)
			},
		},
		{
			name:   "Global YAML overrides scalars and keeps other defaults",
			global: "config.yaml",
			gData: `
persistence:
  driver: file
scheduler:
  task_timeout: 90s
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "file", cfg.Persistence.Driver)
				assert.Equal(t, 90*time.Second, cfg.Scheduler.TaskTimeout.Std())
				assert.Equal(t, "first_idle", cfg.Scheduler.Strategy)
				assert.Equal(t, "localhost:6379", cfg.Persistence.Redis.Addr)
			},
		},
		{
			name:    "Project JSON overrides global and merges roles",
			global:  "config.yaml",
			gData:   "scheduler:\n  strategy: least_loaded\n",
			project: "config.json",
			pData:   `{"scheduler": {"strategy": "skill_match"}, "roles": {"writer": {"system_prompt": "Write tersely."}}}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "skill_match", cfg.Scheduler.Strategy)
				assert.Equal(t, "Write tersely.", cfg.SystemPrompt("writer"))
				assert.Contains(t, cfg.SystemPrompt("critic"), "critic agent")
			},
		},
		{
			name:    "Malformed JSON returns error",
			project: "config.json",
			pData:   `{"scheduler": `,
			wantErr: true,
		},
		{
			name:    "Unknown driver fails validation",
			project: "config.json",
			pData:   `{"persistence": {"driver": "cassandra"}}`,
			wantErr: true,
		},
		{
			name:    "Bad duration returns error",
			global:  "config.yaml",
			gData:   "provider:\n  timeout: soon\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			globalPath := filepath.Join(dir, "missing-global.json")
			projectPath := filepath.Join(dir, "missing-project.json")
			if tt.global != "" {
				gdir := filepath.Join(dir, "global")
				require.NoError(t, os.MkdirAll(gdir, 0755))
				globalPath = writeFile(t, gdir, tt.global, tt.gData)
			}
			if tt.project != "" {
				pdir := filepath.Join(dir, "project")
				require.NoError(t, os.MkdirAll(pdir, 0755))
				projectPath = writeFile(t, pdir, tt.project, tt.pData)
			}

			cfg, err := Load(globalPath, projectPath)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CREW_PERSISTENCE_DRIVER", "redis")
	t.Setenv("CREW_REDIS_ADDR", "cache:6380")
	t.Setenv("CREW_LOG_LEVEL", "debug")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Persistence.Driver)
	assert.Equal(t, "cache:6380", cfg.Persistence.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestDuration_JSONNumberIsNanoseconds(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte("1500000000")))
	assert.Equal(t, 1500*time.Millisecond, d.Std())
}

func TestConfig_Paths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/crew"

	assert.Equal(t, "/var/lib/crew/crew.db", cfg.SQLitePath())
	assert.Equal(t, "/var/lib/crew", cfg.FileDir())

	cfg.Persistence.SQLitePath = "/tmp/other.db"
	assert.Equal(t, "/tmp/other.db", cfg.SQLitePath())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".crew"), ExpandHome("~/.crew"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "config.yaml"), findConfigFile(dir), "absent file falls back to YAML")

	writeFile(t, dir, "config.json", "{}")
	assert.Equal(t, filepath.Join(dir, "config.json"), findConfigFile(dir))

	writeFile(t, dir, "config.yml", "")
	assert.Equal(t, filepath.Join(dir, "config.yml"), findConfigFile(dir))
}
