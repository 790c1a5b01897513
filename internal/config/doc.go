// Package config loads the isolator HCL configuration.
//
// A configuration file has five optional blocks:
//
//	isolation {
//	  backend             = "auto"      # auto | iptables | nftables
//	  dry_run             = false
//	  command_timeout     = "10s"
//	  poll_interval       = "1s"
//	  cleanup_on_start    = true
//	  protected_processes = ["my-agent"]
//	}
//	logging { level = "info"  json = false }
//	audit   { enabled = true  path = "/var/lib/isolator/audit.db"  retention_days = 90 }
//	metrics { listen = "127.0.0.1:9477" }
//	notify {
//	  enabled = true
//	  channel "ops" {
//	    type  = "slack"
//	    url   = "https://hooks.slack.com/services/..."
//	    level = "warning"
//	  }
//	}
//
// Environment variables are available as env.NAME, e.g.
// backend = env.ISOLATOR_BACKEND. Missing blocks and attributes take the
// values of [Default].
//
// protected_processes only ever adds names to the built-in critical process
// list; nothing in the configuration can remove a built-in entry.
package config
