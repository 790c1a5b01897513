package scheduler

import (
	"context"
	"fmt"
	"time"

	"grimm.is/isolator/internal/health"
	"grimm.is/isolator/internal/logging"
	"grimm.is/isolator/internal/metrics"
)

// Pruner deletes expired records and reports how many went.
type Pruner interface {
	Prune() (int64, error)
}

// NewAuditPruneTask prunes the audit store daily at 03:00 and once at start.
func NewAuditPruneTask(p Pruner, logger *logging.Logger) *Task {
	logger = logging.OrDefault(logger)
	return &Task{
		ID:         "audit-prune",
		Name:       "Audit Prune",
		Schedule:   Daily(3, 0),
		RunOnStart: true,
		Timeout:    time.Minute,
		Func: func(ctx context.Context) error {
			n, err := p.Prune()
			if err != nil {
				return fmt.Errorf("prune audit events: %w", err)
			}
			if n > 0 {
				logger.Info("pruned old audit events", "count", n)
			}
			return nil
		},
	}
}

// NewActiveGaugeTask copies the active isolation count into the gauge.
func NewActiveGaugeTask(active func() int, reg *metrics.Registry, interval time.Duration) *Task {
	return &Task{
		ID:         "active-gauge",
		Name:       "Active Isolations Gauge",
		Schedule:   Every(interval),
		RunOnStart: true,
		Timeout:    time.Second,
		Func: func(ctx context.Context) error {
			reg.SetActive(active())
			return nil
		},
	}
}

// NewHealthCheckTask runs checker periodically and fails when it reports
// unhealthy, so the failure shows in the task status and the log.
func NewHealthCheckTask(checker *health.Checker, interval time.Duration) *Task {
	return &Task{
		ID:       "health-check",
		Name:     "Health Check",
		Schedule: Every(interval),
		Timeout:  30 * time.Second,
		Func: func(ctx context.Context) error {
			report := checker.Check(ctx)
			if report.Status != health.StatusUnhealthy {
				return nil
			}
			for _, c := range report.Sorted() {
				if c.Status == health.StatusUnhealthy {
					return fmt.Errorf("%s: %s", c.Name, c.Message)
				}
			}
			return fmt.Errorf("unhealthy")
		},
	}
}

// NewThrottlePruneTask drops idle notification throttle windows hourly.
func NewThrottlePruneTask(prune func(maxAge time.Duration) int) *Task {
	return &Task{
		ID:       "throttle-prune",
		Name:     "Notification Throttle Prune",
		Schedule: Every(time.Hour),
		Timeout:  time.Second,
		Func: func(ctx context.Context) error {
			prune(time.Hour)
			return nil
		},
	}
}
