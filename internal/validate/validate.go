// Package validate holds the pure, side-effect-free checks the
// coordination engine runs before touching the store: task-code format,
// agent-name format, and message-field limits. None of these functions
// do I/O; they only ever reject malformed input.
package validate

import (
	"fmt"
	"regexp"
	"unicode"
)

var (
	taskCodeRe         = regexp.MustCompile(`^[A-Z][A-Z0-9_-]{0,31}$`)
	hasHyphenOrDigitRe = regexp.MustCompile(`[0-9-]`)
	agentNameRe        = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)
)

// TaskCode validates the task-code format from spec §3: starts with a
// letter, up to 32 chars of [A-Z0-9_-], and contains at least one hyphen
// or digit (so "A" alone is rejected but "TASK-001" is accepted).
func TaskCode(code string) error {
	if !taskCodeRe.MatchString(code) {
		return fmt.Errorf("code must match [A-Z][A-Z0-9_-]{0,31}: %q", code)
	}
	if !hasHyphenOrDigitRe.MatchString(code) {
		return fmt.Errorf("code must contain at least one hyphen or digit: %q", code)
	}
	return nil
}

// AgentName validates an agent/owner name: 1-64 chars, [a-z0-9-].
func AgentName(name string) error {
	if !agentNameRe.MatchString(name) {
		return fmt.Errorf("agent name must match [a-z0-9-]{1,64}: %q", name)
	}
	return nil
}

// TaskName validates the 1-200 printable character task name.
func TaskName(name string) error {
	n := len([]rune(name))
	if n < 1 || n > 200 {
		return fmt.Errorf("name must be 1-200 characters, got %d", n)
	}
	if !isPrintable(name) {
		return fmt.Errorf("name must be printable")
	}
	return nil
}

// Description validates the 0-16KiB free text description.
func Description(desc string) error {
	if len(desc) > 16*1024 {
		return fmt.Errorf("description must be at most 16KiB, got %d bytes", len(desc))
	}
	return nil
}

// MessageKind validates a message kind: a 1-32 character non-empty string,
// well-known or custom. The engine never interprets the value.
func MessageKind(kind string) error {
	n := len(kind)
	if n < 1 || n > 32 {
		return fmt.Errorf("kind must be 1-32 characters, got %d", n)
	}
	return nil
}

// MessageContent validates the 1-64KiB message body.
func MessageContent(content string) error {
	if len(content) < 1 {
		return fmt.Errorf("content must not be empty")
	}
	if len(content) > 64*1024 {
		return fmt.Errorf("content must be at most 64KiB, got %d bytes", len(content))
	}
	return nil
}

func isPrintable(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
