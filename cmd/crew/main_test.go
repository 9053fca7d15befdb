package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aristath/crew/internal/persistence"
	"github.com/aristath/crew/internal/scheduler"
	"github.com/aristath/crew/internal/workflow"
)

var t0 = time.Date(2026, 8, 9, 10, 11, 12, 0, time.UTC)

// testEnv isolates HOME and writes a config that keeps state in a temp
// dir and answers every task with the echo provider.
func testEnv(t *testing.T) (configPath, dataDir string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dataDir = t.TempDir()
	configPath = filepath.Join(t.TempDir(), "config.yaml")
	cfg := "data_dir: " + dataDir + `
log:
  level: error
persistence:
  driver: file
provider:
  type: echo
scheduler:
  task_timeout: 5s
`
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0644))
	return configPath, dataDir
}

// seed writes a workflow straight through the file gateway.
func seed(t *testing.T, dataDir string, w *workflow.Workflow) {
	t.Helper()
	g, err := persistence.NewFileGateway(dataDir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, g.Save(context.Background(), w))
	require.NoError(t, g.Close())
}

func reportWorkflow(t *testing.T, deps map[string][]string, ids ...string) *workflow.Workflow {
	t.Helper()
	w := workflow.New("wf-1", "Report", "quarterly report", t0)
	for _, id := range ids {
		require.NoError(t, w.AddTask(workflow.NewTask(id, "Step "+id, "do "+id, deps[id], t0)))
	}
	require.NoError(t, w.AddAgent(workflow.NewAgent("ag-1", "Ada", workflow.RoleWriter, []string{"prose"})))
	require.NoError(t, w.AddAgent(workflow.NewAgent("ag-2", "Bo", workflow.RoleCritic, nil)))
	return w
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := execute(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: crew")

	code, _, stderr = execute(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, stdout, _ := execute(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "crew dev\n", stdout)
}

func TestList(t *testing.T) {
	configPath, dataDir := testEnv(t)

	code, stdout, stderr := execute(t, "list", "--config", configPath)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "No workflows found.\n", stdout)

	seed(t, dataDir, reportWorkflow(t, nil, "A"))
	code, stdout, stderr = execute(t, "list", "--config", configPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "wf-1")
	assert.Contains(t, stdout, "Report")
}

func TestRunThenShow(t *testing.T) {
	configPath, dataDir := testEnv(t)
	seed(t, dataDir, reportWorkflow(t, map[string][]string{"B": {"A"}}, "A", "B"))

	code, stdout, stderr := execute(t, "run", "wf-1", "--config", configPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Starting workflow 'Report'...")
	assert.Contains(t, stdout, "Workflow 'Report' completed successfully!")
	assert.Contains(t, stdout, "Results saved to ")

	code, stdout, stderr = execute(t, "show", "--config", configPath, "wf-1")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Status: completed, 2/2 tasks completed")
	assert.Contains(t, stdout, "Step B")
	assert.Contains(t, stdout, "Ada")

	_, err := os.Stat(filepath.Join(dataDir, "results", "wf-1_results.json"))
	assert.NoError(t, err)
}

func TestRun_ParallelStallExitsNonZero(t *testing.T) {
	configPath, dataDir := testEnv(t)
	seed(t, dataDir, reportWorkflow(t, map[string][]string{"A": {"B"}, "B": {"A"}}, "A", "B"))

	code, stdout, _ := execute(t, "run", "--parallel", "--config", configPath, "wf-1")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, scheduler.StallMessage)
	assert.Contains(t, stdout, "Completed 0 out of 2 tasks.")
}

func TestRun_Errors(t *testing.T) {
	configPath, _ := testEnv(t)

	code, _, stderr := execute(t, "run", "--config", configPath)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "expected exactly one workflow id")

	code, _, stderr = execute(t, "show", "ghost", "--config", configPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "ghost")

	code, _, _ = execute(t, "list", "--bogus")
	assert.Equal(t, 2, code)
}

func TestParseInterleaved(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	parallel := fs.Bool("parallel", false, "")
	cfg := fs.String("config", "", "")

	positional, err := parseInterleaved(fs, []string{"wf-1", "--parallel", "--config", "c.yaml", "extra"})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-1", "extra"}, positional)
	assert.True(t, *parallel)
	assert.Equal(t, "c.yaml", *cfg)
}

func TestServe_StopsWhenInputCloses(t *testing.T) {
	configPath, _ := testEnv(t)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"serve", "--config", configPath}, strings.NewReader(""), &stdout, &stderr)
	assert.Contains(t, []int{0, 1}, code, stderr.String())
}

// TestAppCloseKillsProviderProcesses checks that shutdown terminates
// subprocesses the provider left running.
func TestAppCloseKillsProviderProcesses(t *testing.T) {
	configPath, _ := testEnv(t)
	a, err := newApp(context.Background(), appOptions{configPath: configPath})
	require.NoError(t, err)

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	a.pm.Track(cmd)
	require.Equal(t, 1, a.pm.Count())

	a.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		assert.Error(t, err, "process should have been killed")
	case <-time.After(2 * time.Second):
		t.Fatal("process did not terminate after Close")
	}
	a.pm.Untrack(cmd)
}
