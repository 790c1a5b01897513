package logging

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()

	if cfg.Enabled {
		t.Error("Default should be disabled")
	}
	if cfg.Port != 514 {
		t.Errorf("Expected port 514, got %d", cfg.Port)
	}
	if cfg.Protocol != "udp" {
		t.Errorf("Expected protocol udp, got %s", cfg.Protocol)
	}
	if cfg.Tag != "isolator" {
		t.Errorf("Expected tag isolator, got %s", cfg.Tag)
	}
	if cfg.Facility != 4 {
		t.Errorf("Expected facility 4, got %d", cfg.Facility)
	}
}

func TestNewSyslogWriter_MissingHost(t *testing.T) {
	if _, err := NewSyslogWriter(SyslogConfig{Enabled: true}); err == nil {
		t.Error("Expected error for missing host")
	}
}

func TestSyslogWriter_WritesRFC3164(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on udp: %v", err)
	}
	defer pc.Close()

	addr := pc.LocalAddr().(*net.UDPAddr)
	w, err := NewSyslogWriter(SyslogConfig{Host: "127.0.0.1", Port: addr.Port})
	if err != nil {
		t.Fatalf("NewSyslogWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("isolated pid=42")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 1024)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	got := string(buf[:n])

	// facility 4 (auth) * 8 + severity 6 (info)
	if !strings.HasPrefix(got, "<38>") {
		t.Errorf("unexpected priority in %q", got)
	}
	if !strings.Contains(got, "isolator: isolated pid=42") {
		t.Errorf("missing tag/message in %q", got)
	}
}

func TestSyslogWriter_WriteAfterClose(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on udp: %v", err)
	}
	defer pc.Close()

	w, err := NewSyslogWriter(SyslogConfig{Host: "127.0.0.1", Port: pc.LocalAddr().(*net.UDPAddr).Port})
	if err != nil {
		t.Fatalf("NewSyslogWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Error("expected error writing to closed writer")
	}
}
