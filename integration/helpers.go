//go:build integration

package integration

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	binary    string
	buildErr  error
)

// binaryPath builds the CLI once per test process
func binaryPath(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "repo-rlm-bin-")
		if err != nil {
			buildErr = err
			return
		}
		binary = filepath.Join(dir, "repo-rlm")
		cmd := exec.Command("go", "build", "-o", binary, "../cmd/repo-rlm")
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("%v\n%s", err, out)
		}
	})
	if buildErr != nil {
		t.Fatalf("Failed to build binary: %v", buildErr)
	}
	return binary
}

// WriteRepo creates a small repository with three packages of eight
// TypeScript files each, one of them carrying review findings
func WriteRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for d := 0; d < 3; d++ {
		for i := 0; i < 8; i++ {
			content := fmt.Sprintf("export const v%d = %d\n", i, i)
			if d == 1 && i == 0 {
				content = "const x: any = eval(\"1\");\n// TODO: drop\n"
			}
			p := filepath.Join(root, fmt.Sprintf("pkg%d", d), fmt.Sprintf("f%d.ts", i))
			if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(p, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

// WriteConfig writes a local config next to the repository
func WriteConfig(t *testing.T, root string) string {
	t.Helper()
	config := `[general]
log_level = "debug"

[defaults]
max_depth = 3
max_llm_calls = 50
max_tokens = 1000000
max_wall_clock_ms = 600000
scheduler = "bfs"

[partition]
max_leaf_items = 12
max_leaf_tokens = 24000
ignore = [".git", ".rlm", ".repo-rlm.toml"]

[executor]
kind = "heuristic"

[notifications]
desktop = false
`
	path := filepath.Join(root, ".repo-rlm.toml")
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// runCLI runs the binary against root and returns trimmed stdout+stderr
func runCLI(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath(t), append([]string{"--root", root}, args...)...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "RLM_EXECUTOR=", "HOME="+t.TempDir())
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func mustRun(t *testing.T, root string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, root, args...)
	if err != nil {
		t.Fatalf("repo-rlm %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}
