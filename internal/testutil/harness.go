package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	modkit "github.com/vk/modkit"
	"github.com/vk/modkit/module"
)

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput func() string
	Err       error
	Runtime   *modkit.Runtime
}

// RunRuntimeTest provides a standardized harness for integration tests:
// it writes the given HCL files to a temporary config directory, builds a
// Runtime around the discovery tree, and runs its start sequence.
func RunRuntimeTest(t *testing.T, files map[string]string, root *module.Node) *HarnessResult {
	t.Helper()
	return RunRuntimeTestWithConfig(t, files, root, nil)
}

// RunRuntimeTestWithConfig is RunRuntimeTest with a hook to adjust the
// runtime configuration before construction.
func RunRuntimeTestWithConfig(t *testing.T, files map[string]string, root *module.Node, mutate func(*modkit.Config)) *HarnessResult {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", ".tmp-modkit-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}

	cfg := modkit.Config{
		ConfigPath:  tmpDir,
		LogLevel:    "debug",
		LogFormat:   "text",
		WorkerCount: 4,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logBuffer := &SafeBuffer{}
	rt, err := modkit.New(logBuffer, cfg, root)
	if err != nil {
		return &HarnessResult{LogOutput: logBuffer.String, Err: err}
	}
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })

	startErr := rt.Start(context.Background())
	return &HarnessResult{
		LogOutput: logBuffer.String,
		Err:       startErr,
		Runtime:   rt,
	}
}
