package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aristath/crew/internal/config"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crew.log")
	logger, err := New(config.LogConfig{Level: "info", Format: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Debug("hidden")
	Component(logger, "store").Info("Created workflow", zap.String("workflow_id", "abc"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"Created workflow"`)
	assert.Contains(t, out, `"component":"store"`)
	assert.Contains(t, out, `"timestamp"`)
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1)
}

func TestNew_HooksSeeEntries(t *testing.T) {
	var seen []string
	hook := func(e zapcore.Entry) error {
		seen = append(seen, e.Message)
		return nil
	}
	logger, err := New(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{filepath.Join(t.TempDir(), "x.log")}}, hook)
	require.NoError(t, err)

	logger.Info("skipped")
	logger.Warn("kept")

	assert.Equal(t, []string{"kept"}, seen)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestComponent_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Component(nil, "x").Info("ok")
	})
}
