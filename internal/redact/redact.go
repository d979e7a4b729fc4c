// Package redact scrubs credentials, connection strings, file paths and SQL
// from strings before they are logged or returned in API error responses.
// Task payloads routinely carry webhook URLs and the storage layer reports
// DSNs and file paths in its errors, so anything that crosses the API
// boundary goes through here first.
package redact

import (
	"net/url"
	"regexp"
)

// Placeholders substituted for redacted fragments.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
)

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

// Rules are applied in order. Credentials go first so a later path or SQL
// match cannot split them and leave a fragment behind.
var rules = []rule{
	{
		// scheme://user:password@ in any connection string
		regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.-]*://[^/\s@]+@`),
		RedactedCredentialPlaceholder,
	},
	{
		// key=value style DSN passwords
		regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`),
		RedactedCredentialPlaceholder,
	},
	{
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		RedactedJWTPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/]+=*`),
		RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)(api[_-]?key|token|secret|signature)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`),
		RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(
			`(?i)\b(SELECT|INSERT|UPDATE|DELETE)\b[\s\w,*()$.=]+\b(FROM|INTO|SET|WHERE)\b[\s\w,*()$.='"]*`,
		),
		RedactedSQLPlaceholder,
	},
	{
		regexp.MustCompile(`(?:^|\s|")(/[\w.-]+){2,}`),
		RedactedPathPlaceholder,
	},
	{
		regexp.MustCompile(`[A-Za-z]:\\[^\\\s]+(\\[^\\\s]+)+`),
		RedactedPathPlaceholder,
	},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllStringFunc(result, func(match string) string {
			// keep the separator the path pattern consumed
			if r.placeholder == RedactedPathPlaceholder && match[0] != '/' {
				return match[:1] + r.placeholder
			}
			return r.placeholder
		})
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// URL returns raw without user info, query or fragment, suitable for logs.
// Unparseable input is redacted entirely.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return RedactionPlaceholder
	}

	hadQuery := u.RawQuery != ""
	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	if hadQuery {
		return u.String() + "?" + RedactionPlaceholder
	}
	return u.String()
}
