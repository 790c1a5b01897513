package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// captureOutput redirects command output for the duration of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	orig := out
	out = buf
	t.Cleanup(func() { out = orig })
	return buf
}

// isolateConfigDir points the default config and state dirs at a temp dir.
func isolateConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ISOLATOR_CONFIG_DIR", dir)
	t.Setenv("ISOLATOR_STATE_DIR", dir)
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "isolator.hcl")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}
