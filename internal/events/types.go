// Package events provides the pub/sub bus isolation activity is published on.
// The audit store and anything else interested in isolation history
// subscribe here instead of being called by the manager directly.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	EventIsolated EventType = "isolation.isolated" // rules applied
	EventRestored EventType = "isolation.restored" // explicit restore
	EventExited   EventType = "isolation.exited"   // target exited, rules torn down
	EventCleanup  EventType = "isolation.cleanup"  // bulk sweep
	EventFailed   EventType = "isolation.failed"   // isolation attempt rejected or failed
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
}

// IsolationData is the payload of every isolation event.
type IsolationData struct {
	RecordID string `json:"record_id,omitempty"`
	PID      int    `json:"pid,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Backend  string `json:"backend"`
	Rules    int    `json:"rules,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
	Error    string `json:"error,omitempty"`
}
