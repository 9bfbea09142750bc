package main

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getProjectRoot returns the absolute path to the project root.
func getProjectRoot(t *testing.T) string {
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatal("go.mod not found")
	return ""
}

func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping build test in short mode")
	}
	binPath := filepath.Join(t.TempDir(), "coordkit")
	buildCmd := exec.Command("go", "build", "-o", binPath, ".")
	buildCmd.Dir = filepath.Join(getProjectRoot(t), "cmd", "coordkit")
	output, err := buildCmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(output))
	return binPath
}

// TestMainEntryPoints tests that the main function is properly defined.
func TestMainEntryPoints(t *testing.T) {
	_ = main
}

func TestMainHelpFlag(t *testing.T) {
	bin := buildBinary(t)
	out, err := exec.Command(bin, "--help").CombinedOutput()
	require.NoError(t, err)
	assert.Contains(t, string(out), "coordkit")
	assert.Contains(t, string(out), "shared filesystem")
}

func TestMainUnknownCommand(t *testing.T) {
	bin := buildBinary(t)
	out, err := exec.Command(bin, "unknown-command-xyz").CombinedOutput()
	assert.Error(t, err)
	assert.Contains(t, strings.ToLower(string(out)), "unknown")
}

func TestMainExitCodes(t *testing.T) {
	bin := buildBinary(t)
	root := t.TempDir()

	cmd := exec.Command(bin, "--root", root, "map", "get", "plans", "missing")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())

	require.NoError(t, exec.Command(bin, "--root", root, "lock", "acquire", "job").Run())
	err = exec.Command(bin, "--root", root, "lock", "acquire", "job", "--no-wait").Run()
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode())
}

// TestBinaryGetOrCreateAcrossProcesses races independent processes on one
// shared map key; exactly one of them may store its value.
func TestBinaryGetOrCreateAcrossProcesses(t *testing.T) {
	bin := buildBinary(t)
	root := t.TempDir()

	const n = 4
	type result struct {
		Value   string `json:"value"`
		Created bool   `json:"created"`
	}
	results := make([]result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := exec.Command(bin, "--root", root, "--json", "map", "put-if-absent",
				"plans", "run-1", "plan-from-"+string(rune('a'+i))).Output()
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, json.Unmarshal(out, &results[i]))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, r := range results {
		if r.Created {
			created++
		}
		assert.Equal(t, results[0].Value, r.Value)
	}
	assert.Equal(t, 1, created)
}
