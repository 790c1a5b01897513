package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRules_IPTables(t *testing.T) {
	isolateConfigDir(t)
	buf := captureOutput(t)

	require.NoError(t, RunRules([]string{"-backend", "iptables", "-tag", "demo", "4321"}))

	got := buf.String()
	assert.Contains(t, got, "# iptables rules for pid 4321 (matches by pid)")
	assert.Contains(t, got, "iptables -w -N ISOLATOR")

	var drops, logs int
	for _, line := range strings.Split(got, "\n") {
		if !strings.Contains(line, "--pid-owner 4321") {
			continue
		}
		assert.Contains(t, line, "isolator:demo")
		if strings.Contains(line, "-j DROP") {
			drops++
		}
		if strings.Contains(line, "ISOLATOR_BLOCK_PID_4321") {
			logs++
		}
	}
	assert.Equal(t, 1, drops)
	assert.Equal(t, 1, logs)
}

func TestRunRules_BackendFromConfig(t *testing.T) {
	dir := isolateConfigDir(t)
	writeConfig(t, dir, `
isolation {
  backend = "iptables"
}
`)
	buf := captureOutput(t)

	require.NoError(t, RunRules([]string{"777"}))
	assert.Contains(t, buf.String(), "--pid-owner 777")
}

func TestRunRules_BadArguments(t *testing.T) {
	isolateConfigDir(t)
	captureOutput(t)

	assert.Error(t, RunRules(nil))
	assert.Error(t, RunRules([]string{"abc"}))
	assert.Error(t, RunRules([]string{"-5"}))
	assert.Error(t, RunRules([]string{"-backend", "pf", "100"}))
	assert.ErrorContains(t, RunRules([]string{"-tag", `x" drop`, "100"}), "invalid tag")
}
