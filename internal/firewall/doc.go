// Package firewall applies and removes per-process network isolation rules.
//
// # Overview
//
// A [Backend] turns "cut this pid off the network" into three kernel
// firewall rules and hands back opaque descriptors that undo them later.
// Two implementations exist:
//
//   - [IPTablesBackend]: owner match by pid, rules appended to a dedicated
//     ISOLATOR chain jumped to from OUTPUT.
//   - [NFTablesBackend]: owner match by uid (nftables has no pid match),
//     rules added to a dedicated "inet isolator" table.
//
// The difference is exposed as [Granularity]. Anything reasoning about how
// precise an isolation is must consult it; a uid-granular rule also cuts off
// every other process running as the same user.
//
// # Rule order
//
// Every isolation is allow loopback, log, drop, in that evaluation order:
//
//	allow  127.0.0.0/8        (local IPC and health checks keep working)
//	log    ISOLATOR_BLOCK_...  (audit trail in the kernel log)
//	drop   everything else
//
// # Execution
//
// Backends shell out through a [CommandRunner]. [ExecRunner] bounds every
// command with a timeout; expiry is reported as [ErrCommandTimeout] and is
// a command failure like any other. In dry-run mode a [RecordingRunner]
// replaces it: commands are rendered, logged and recorded, never executed.
//
// # Cleanup
//
// [Backend.CleanupAllRules] removes everything this package ever created,
// including rules left behind by a previous crashed run. It succeeds when
// there is nothing to remove.
package firewall
