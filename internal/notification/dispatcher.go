// Package notification forwards isolation events to chat and push channels.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/clock"
	"grimm.is/isolator/internal/config"
	"grimm.is/isolator/internal/events"
	"grimm.is/isolator/internal/logging"
	"grimm.is/isolator/internal/metrics"
	"grimm.is/isolator/internal/ratelimit"
)

// Level constants
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

const defaultNtfyServer = "https://ntfy.sh"

// Notification represents a notification event
type Notification struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Dispatcher delivers notifications to the configured channels.
type Dispatcher struct {
	channels  []*config.ChannelConfig
	rateLimit int

	client  *http.Client
	limiter *ratelimit.Limiter
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Registry
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets the client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithClock sets the clock used for timestamps and throttling.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records delivery results in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(d *Dispatcher) { d.metrics = r }
}

// NewDispatcher creates a dispatcher for cfg. A nil or disabled config yields
// a dispatcher with no channels.
func NewDispatcher(cfg *config.NotifyConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client: &http.Client{Timeout: 10 * time.Second},
		clock:  clock.Real,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.Default().WithComponent("notification")
	}
	d.limiter = ratelimit.NewLimiter(d.clock)

	if cfg != nil && cfg.Enabled {
		d.channels = cfg.Channels
		d.rateLimit = cfg.RateLimit
	}
	return d
}

// Enabled reports whether any channel is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.channels) > 0
}

// Send delivers n to every channel whose level accepts it, concurrently.
// Throttled channels are skipped silently; delivery failures are joined.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = d.clock.Now()
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ch := range d.channels {
		if !shouldSend(n.Level, ch.Level) {
			continue
		}
		if d.rateLimit > 0 && !d.limiter.Allow(ch.Name, d.rateLimit, time.Minute) {
			d.logger.Warn("notification throttled", "channel", ch.Name, "title", n.Title)
			d.record(ch.Name, metrics.NotifyThrottled)
			continue
		}

		wg.Add(1)
		go func(ch *config.ChannelConfig) {
			defer wg.Done()
			if err := d.sendToChannel(ctx, ch, n); err != nil {
				d.logger.Error("failed to send notification",
					"channel", ch.Name,
					"type", ch.Type,
					"error", err)
				d.record(ch.Name, metrics.NotifyFailed)
				mu.Lock()
				errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name, err))
				mu.Unlock()
				return
			}
			d.record(ch.Name, metrics.NotifySent)
		}(ch)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// PruneThrottle forgets throttle windows idle for longer than maxAge.
func (d *Dispatcher) PruneThrottle(maxAge time.Duration) int {
	return d.limiter.CleanupExpired(maxAge)
}

func (d *Dispatcher) record(channel, result string) {
	if d.metrics != nil {
		d.metrics.RecordNotification(channel, result)
	}
}

// Attach forwards hub events to the channels until the returned detach
// function is called. Detach waits for in-flight deliveries.
func (d *Dispatcher) Attach(hub *events.Hub) (detach func()) {
	ch := hub.Subscribe(64,
		events.EventIsolated,
		events.EventFailed,
		events.EventExited,
		events.EventRestored,
		events.EventCleanup,
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			n, ok := FromEvent(e)
			if !ok {
				continue
			}
			// errors are already logged per channel
			_ = d.Send(context.Background(), n)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			hub.Unsubscribe(ch)
			<-done
		})
	}
}

// FromEvent renders an isolation event as a notification. Events without an
// isolation payload are ignored.
func FromEvent(e events.Event) (Notification, bool) {
	data, ok := e.Data.(events.IsolationData)
	if !ok {
		return Notification{}, false
	}

	n := Notification{
		Timestamp: e.Timestamp,
		Data: map[string]any{
			"event":   string(e.Type),
			"pid":     data.PID,
			"backend": data.Backend,
		},
	}
	if data.RecordID != "" {
		n.Data["record_id"] = data.RecordID
	}
	if data.DryRun {
		n.Data["dry_run"] = true
	}

	switch e.Type {
	case events.EventIsolated:
		n.Level = LevelWarning
		n.Title = fmt.Sprintf("Process %d isolated", data.PID)
		n.Message = fmt.Sprintf("%d %s rules installed. Reason: %s", data.Rules, data.Backend, data.Reason)
	case events.EventFailed:
		n.Level = LevelCritical
		n.Title = fmt.Sprintf("Isolation of process %d failed", data.PID)
		n.Message = data.Error
	case events.EventRestored:
		n.Level = LevelInfo
		n.Title = fmt.Sprintf("Process %d restored", data.PID)
		n.Message = "Network access restored."
	case events.EventExited:
		n.Level = LevelInfo
		n.Title = fmt.Sprintf("Isolated process %d exited", data.PID)
		n.Message = "Rules removed after process exit."
	case events.EventCleanup:
		n.Level = LevelInfo
		n.Title = "Isolation rules cleaned up"
		n.Message = fmt.Sprintf("All %s rules removed from %s.", brand.Name, data.Backend)
	default:
		return Notification{}, false
	}
	if data.DryRun {
		n.Title += " (dry run)"
	}
	return n, true
}

// shouldSend checks if a message level meets the channel's minimum level
func shouldSend(msgLevel, chanLevel string) bool {
	if chanLevel == "" {
		return true
	}

	levels := map[string]int{
		LevelInfo:     1,
		LevelWarning:  2,
		LevelCritical: 3,
	}
	return levels[strings.ToLower(msgLevel)] >= levels[strings.ToLower(chanLevel)]
}

func (d *Dispatcher) sendToChannel(ctx context.Context, ch *config.ChannelConfig, n Notification) error {
	switch strings.ToLower(ch.Type) {
	case "webhook", "slack", "discord":
		return d.sendWebhook(ctx, ch, n)
	case "ntfy":
		return d.sendNtfy(ctx, ch, n)
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
}

func (d *Dispatcher) sendWebhook(ctx context.Context, ch *config.ChannelConfig, n Notification) error {
	if ch.URL == "" {
		return fmt.Errorf("missing url")
	}

	var payload any = n
	switch ch.Type {
	case "slack":
		payload = map[string]string{
			"text": fmt.Sprintf("*%s*\n%s\n_Level: %s_", n.Title, n.Message, n.Level),
		}
	case "discord":
		payload = map[string]string{
			"content": fmt.Sprintf("**%s**\n%s", n.Title, n.Message),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if ch.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ch.Token)
	}
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}
	return d.do(req, ch.Type)
}

func (d *Dispatcher) sendNtfy(ctx context.Context, ch *config.ChannelConfig, n Notification) error {
	if ch.Topic == "" {
		return fmt.Errorf("missing topic for ntfy")
	}
	server := ch.URL
	if server == "" {
		server = defaultNtfyServer
	}
	url := strings.TrimSuffix(server, "/") + "/" + ch.Topic

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(n.Message))
	if err != nil {
		return err
	}
	req.Header.Set("Title", n.Title)

	switch n.Level {
	case LevelCritical:
		req.Header.Set("Priority", "high")
		req.Header.Set("Tags", "rotating_light")
	case LevelWarning:
		req.Header.Set("Priority", "default")
		req.Header.Set("Tags", "warning")
	case LevelInfo:
		req.Header.Set("Priority", "low")
		req.Header.Set("Tags", "information_source")
	}

	if ch.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ch.Token)
	}
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}
	return d.do(req, "ntfy")
}

func (d *Dispatcher) do(req *http.Request, kind string) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s failed with status: %d", kind, resp.StatusCode)
	}
	return nil
}
