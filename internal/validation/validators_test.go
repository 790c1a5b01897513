package validation

import (
	"strings"
	"testing"
)

func TestValidateTag(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Happy paths
		{"uuid", "3f2a9c1e-7d4b-4c55-9e0a-1b2c3d4e5f60", false},
		{"word", "preview", false},
		{"dotted", "case.1234:host-a", false},
		{"max length", strings.Repeat("a", MaxTagLength), false},

		// Sad paths
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxTagLength+1), true},
		{"space", "my tag", true},
		{"quote breaks nft comment", `x" drop`, true},
		{"semicolon", "x;flush ruleset", true},
		{"newline", "x\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTag(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTag(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Happy paths
		{"simple", "ops-alerts", false},
		{"underscore", "pager_duty", false},
		{"alphanumeric", "channel123", false},

		// Sad paths
		{"empty", "", true},
		{"space", "my channel", true},
		{"dot", "my.channel", true},
		{"semicolon", "a;b", true},
		{"long", strings.Repeat("a", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateProcessName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"short", "sshd", false},
		{"longer than comm", "systemd-resolved", false},
		{"dotted", "kworker.1", false},
		{"slash", "kworker/0:1H", true},
		{"blank", "   ", true},
		{"empty", "", true},
		{"path", "/usr/sbin/sshd", true},
		{"quote", `edr"agent`, true},
		{"null", "edr\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProcessName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProcessName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"absolute", "/var/lib/isolator/audit.db", false},
		{"relative", "audit.db", false},
		{"dots in name", "/var/lib/isolator/audit..db", false},
		{"empty", "", true},
		{"traversal", "/var/lib/isolator/../../etc/shadow", true},
		{"null byte", "/var/lib/isolator/audit\x00.db", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"https", "https://hooks.slack.com/services/T0/B0/x", false},
		{"http with port", "http://127.0.0.1:8080/hook", false},
		{"empty", "", true},
		{"no scheme", "hooks.slack.com/services", true},
		{"ftp", "ftp://example.com/x", true},
		{"no host", "https:///path", true},
		{"bad escape", "https://example.com/%zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAllowlist(t *testing.T) {
	allowed := []string{"udp", "tcp"}

	if err := ValidateAllowlist("udp", allowed); err != nil {
		t.Errorf("udp should be allowed: %v", err)
	}
	err := ValidateAllowlist("quic", allowed)
	if err == nil {
		t.Fatal("quic should be rejected")
	}
	if !strings.Contains(err.Error(), "udp, tcp") {
		t.Errorf("error should list allowed values: %v", err)
	}
}

func TestValidatePortNumber(t *testing.T) {
	for _, port := range []int{1, 514, 65535} {
		if err := ValidatePortNumber(port); err != nil {
			t.Errorf("port %d should be valid: %v", port, err)
		}
	}
	for _, port := range []int{0, -1, 65536} {
		if err := ValidatePortNumber(port); err == nil {
			t.Errorf("port %d should be invalid", port)
		}
	}
}
