// Package security normalizes and validates untrusted request input before
// it reaches storage or a model prompt.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// UnsafeInputError marks every failed security check so callers can map it
// to a single HTTP status.
type UnsafeInputError struct {
	Reason string
}

func (e *UnsafeInputError) Error() string {
	return fmt.Sprintf("unsafe input: %s", e.Reason)
}

var ctrlChars = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)';?\s*or\s*'1'='1`),
	regexp.MustCompile(`(?i)';?\s*or\s*\d=\d`),
	regexp.MustCompile(`(?i)\bunion\b\s+\bselect\b`),
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
	regexp.MustCompile(`(?i)\btruncate\s+table\b`),
	regexp.MustCompile(`(?i)\balter\s+table\b`),
	regexp.MustCompile(`(?i)\bdelete\s+from\b`),
	regexp.MustCompile(`(?i)\binsert\s+into\b`),
	regexp.MustCompile(`(?i)\bupdate\b\s+\w+\s+set\b`),
	regexp.MustCompile(`(?i)\bselect\b\s+\*\s+\bfrom\b`),
}

var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (?:all|any|the) previous instructions`),
	regexp.MustCompile(`(?i)disregard (?:all|any|the) rules`),
	regexp.MustCompile(`(?i)from now on you (?:are|must|should)`),
	regexp.MustCompile(`(?i)pretend to be`),
	regexp.MustCompile(`(?i)you are (?:now|no longer) (?:a|an)`),
	regexp.MustCompile(`(?i)system prompt`),
	regexp.MustCompile(`(?i)exfiltrate`),
}

var allowedIdentifier = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,128}$`)

// StripControlChars removes ASCII control characters except tab and newline.
func StripControlChars(value string) string {
	return ctrlChars.ReplaceAllString(value, "")
}

// SanitizeText normalizes input text before storage or downstream use.
// Newlines are normalized, control characters dropped, and the result is
// trimmed and truncated to maxLength runes. maxLength <= 0 disables the cap.
func SanitizeText(text string, maxLength int) string {
	cleaned := strings.ReplaceAll(text, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")
	cleaned = StripControlChars(cleaned)
	cleaned = strings.TrimSpace(cleaned)
	if maxLength > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLength {
			cleaned = strings.TrimRight(string(runes[:maxLength]), " \t\n")
		}
	}
	return cleaned
}

// DetectSQLInjection returns the matching pattern when the text looks like a
// SQL injection probe.
func DetectSQLInjection(text string) string {
	for _, pattern := range sqlInjectionPatterns {
		if pattern.MatchString(text) {
			return pattern.String()
		}
	}
	return ""
}

// DetectPromptInjection returns the matching pattern when the text tries to
// override model instructions.
func DetectPromptInjection(text string) string {
	for _, pattern := range promptInjectionPatterns {
		if pattern.MatchString(text) {
			return pattern.String()
		}
	}
	return ""
}

// EnsureSafePrompt sanitizes text and rejects suspicious prompt or SQL
// keywords.
func EnsureSafePrompt(text string, maxLength int) (string, error) {
	sanitized := SanitizeText(text, maxLength)
	hit := DetectSQLInjection(sanitized)
	if hit == "" {
		hit = DetectPromptInjection(sanitized)
	}
	if hit != "" {
		return "", &UnsafeInputError{Reason: fmt.Sprintf("potential injection attempt detected: %s", hit)}
	}
	return sanitized, nil
}

// SanitizeIdentifier validates short identifiers such as user ids, session
// ids and profile keys.
func SanitizeIdentifier(value, label string) (string, error) {
	sanitized := SanitizeText(value, 128)
	if sanitized == "" || !allowedIdentifier.MatchString(sanitized) {
		return "", &UnsafeInputError{Reason: fmt.Sprintf("invalid %s", label)}
	}
	return sanitized, nil
}

// SanitizeMetadata cleans optional request metadata, substituting a fallback
// when nothing usable remains.
func SanitizeMetadata(value, fallback string, maxLength int) string {
	sanitized := SanitizeText(value, maxLength)
	if sanitized == "" {
		return fallback
	}
	return sanitized
}
