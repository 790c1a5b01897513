// Package validation checks operator-supplied strings before they end up in
// firewall rule text or configuration.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Valid rule tag: alphanumeric, dash, underscore, dot, colon
	tagRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// Valid identifier: alphanumeric, dash, underscore
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Characters that must never reach a firewall command line or rule comment
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r", "\x00"}
)

// MaxTagLength keeps the prefixed tag inside the 256-byte iptables comment limit.
const MaxTagLength = 128

// ValidateTag validates a record tag embedded in rule comments.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag cannot be empty")
	}
	if len(tag) > MaxTagLength {
		return fmt.Errorf("tag too long (max %d characters)", MaxTagLength)
	}
	if !tagRegex.MatchString(tag) {
		return fmt.Errorf("invalid tag: %q (must be alphanumeric with -_.:)", tag)
	}
	return nil
}

// ValidateIdentifier validates a general identifier (channel names etc.)
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if len(id) > 255 {
		return fmt.Errorf("identifier too long (max 255 characters)")
	}

	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier: %s (must be alphanumeric with -_)", id)
	}

	return nil
}

// ValidateProcessName validates a command name for the protected-process
// safelist. Names longer than the kernel's 15-byte comm are allowed; matching
// truncates them.
func ValidateProcessName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("process name cannot be empty")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("process name must not contain '/': %s", name)
	}
	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("process name contains dangerous character: %q", char)
		}
	}
	return nil
}

// ValidatePath validates a file path for state files such as the audit
// database.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null byte in path")
	}

	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if elem == ".." {
			return fmt.Errorf("path traversal not allowed: %s", path)
		}
	}

	return nil
}

// ValidateURL validates an http(s) endpoint.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host: %s", raw)
	}
	return nil
}

// ValidateAllowlist checks if a value is in an allowed list
func ValidateAllowlist(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("must be one of %s (got %q)", strings.Join(allowed, ", "), value)
}

// ValidatePortNumber validates a port number
func ValidatePortNumber(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", port)
	}
	return nil
}
