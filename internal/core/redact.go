package core

import (
	"strings"

	"dispatch/internal/model"
)

const redacted = "[REDACTED]"

// sensitiveHeaders are replaced before an exchange is written to history.
var sensitiveHeaders = map[string]bool{
	// Standard authentication headers
	"authorization":       true,
	"proxy-authorization": true,

	// Session and token headers
	"cookie":       true,
	"x-api-key":    true,
	"api-key":      true,
	"x-auth-token": true,
	"x-csrf-token": true,
	"x-xsrf-token": true,

	// AWS credentials
	"x-amz-security-token": true,
	"x-amz-credential":     true,
	"x-amz-signature":      true,

	// Other common auth headers
	"x-access-token":  true,
	"x-refresh-token": true,
	"x-session-token": true,
	"x-secret-key":    true,
	"x-private-key":   true,
}

// redactHeaders returns a copy of h with sensitive values replaced.
func redactHeaders(h model.HeaderSet) model.HeaderSet {
	out := h.Clone()
	for i := range out {
		if sensitiveHeaders[strings.ToLower(out[i].Name)] {
			out[i].Value = redacted
		}
	}
	return out
}

// redactResponseHeaders does the same for the "Name: value" lines of a
// response, where Set-Cookie is the usual offender.
func redactResponseHeaders(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		lower := strings.ToLower(strings.TrimSpace(name))
		if sensitiveHeaders[lower] || lower == "set-cookie" {
			lines[i] = name + ": " + redacted
		}
	}
	return strings.Join(lines, "\n")
}
