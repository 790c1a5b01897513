// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// PrivilegedEnv enables tests that change real kernel firewall state.
const PrivilegedEnv = "ISOLATOR_PRIVILEGED_TEST"

// RequireRoot skips the test unless it runs as root with PrivilegedEnv set.
// Such tests install real iptables/nftables rules, so they only belong in a
// disposable VM or container.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Getenv(PrivilegedEnv) == "" {
		t.Skipf("Skipping test: requires %s environment", PrivilegedEnv)
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
