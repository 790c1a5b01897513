package logging

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// SyslogConfig holds remote syslog configuration. Isolation decisions are
// security events, so the default facility is LOG_AUTH.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int    // default 514
	Protocol string // udp or tcp (default udp)
	Tag      string // default isolator
	Facility int    // default 4 (auth)
}

// DefaultSyslogConfig returns sensible defaults.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "isolator",
		Facility: 4,
	}
}

// SyslogWriter implements io.Writer and sends logs to a remote syslog server.
type SyslogWriter struct {
	mu       sync.Mutex
	conn     net.Conn
	config   SyslogConfig
	hostname string
}

// NewSyslogWriter creates a new syslog writer.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	defaults := DefaultSyslogConfig()
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if cfg.Protocol == "" {
		cfg.Protocol = defaults.Protocol
	}
	if cfg.Tag == "" {
		cfg.Tag = defaults.Tag
	}
	if cfg.Facility == 0 {
		cfg.Facility = defaults.Facility
	}

	conn, err := dialSyslog(cfg)
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}

	return &SyslogWriter{
		conn:     conn,
		config:   cfg,
		hostname: hostname,
	}, nil
}

func dialSyslog(cfg SyslogConfig) (net.Conn, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	conn, err := net.DialTimeout(cfg.Protocol, addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog server %s: %w", addr, err)
	}
	return conn, nil
}

// Write implements io.Writer for syslog.
// Formats message in RFC 3164 format: <priority>timestamp hostname tag: message
func (w *SyslogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return 0, fmt.Errorf("syslog connection closed")
	}

	// Priority = facility * 8 + severity (6 = info)
	priority := w.config.Facility*8 + 6
	timestamp := time.Now().Format(time.Stamp)
	msg := fmt.Sprintf("<%d>%s %s %s: %s", priority, timestamp, w.hostname, w.config.Tag, string(p))

	if _, err = w.conn.Write([]byte(msg)); err != nil {
		w.reconnect()
		return 0, err
	}
	return len(p), nil
}

// reconnect attempts to re-establish the syslog connection. Failures are
// written to stderr because the logger itself may be what is failing.
func (w *SyslogWriter) reconnect() {
	if w.conn != nil {
		w.conn.Close()
	}
	conn, err := dialSyslog(w.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[syslog] failed to reconnect: %v\n", err)
		w.conn = nil
		return
	}
	w.conn = conn
}

// Close closes the syslog connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

// MultiWriter combines multiple io.Writers (e.g., stderr + syslog).
func MultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}
