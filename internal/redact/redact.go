// Package redact removes secrets from strings before they are logged,
// stored in audit rows, or returned in error responses. Robot webhook URLs
// carry their access token in the URL itself, so they get dedicated helpers.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

// Placeholders substituted for redacted content
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
)

var (
	dbConnRegex   = regexp.MustCompile(`(?i)(postgres|postgresql|mysql|sqlite|db|database)://[^@\s]+@`)
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`)
	apiKeyRegex   = regexp.MustCompile(
		`(?i)(api[_-]?key|access[_-]?token|token|secret)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)
	sqlRegex = regexp.MustCompile(
		`(?i)(SELECT|INSERT|UPDATE|DELETE)[\s\w,*()$=.]+(?:FROM|INTO|SET)(?:[\s\w,*()='"$.]+)?`,
	)
	urlRegex = regexp.MustCompile(`https?://[^\s"'<>]+`)

	// tokenSegmentRegex matches path segments that look like embedded
	// webhook tokens, e.g. /bot/v2/hook/<uuid>.
	tokenSegmentRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]{20,}$`)

	patterns = []struct {
		re          *regexp.Regexp
		placeholder string
	}{
		{dbConnRegex, RedactedCredentialPlaceholder},
		{passwordRegex, RedactedCredentialPlaceholder},
		{apiKeyRegex, RedactedKeyPlaceholder},
		{sqlRegex, RedactedSQLPlaceholder},
	}
)

// String redacts credentials, keys, SQL fragments and webhook tokens from input.
func String(input string) string {
	if input == "" {
		return input
	}
	result := WebhookURLs(input)
	for _, p := range patterns {
		result = p.re.ReplaceAllString(result, p.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// WebhookURL masks every query value and any token-like path segment of raw,
// leaving scheme, host and the remaining path readable. Unparseable input is
// replaced entirely.
func WebhookURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return RedactionPlaceholder
	}

	segments := strings.Split(u.Path, "/")
	for i, s := range segments {
		if tokenSegmentRegex.MatchString(s) {
			segments[i] = RedactionPlaceholder
		}
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(strings.Join(segments, "/"))

	if u.RawQuery != "" {
		pairs := strings.Split(u.RawQuery, "&")
		for i, pair := range pairs {
			key, _, _ := strings.Cut(pair, "=")
			pairs[i] = key + "=" + RedactionPlaceholder
		}
		b.WriteString("?")
		b.WriteString(strings.Join(pairs, "&"))
	}
	return b.String()
}

// WebhookURLs applies WebhookURL to every http(s) URL found in text.
func WebhookURLs(text string) string {
	return urlRegex.ReplaceAllStringFunc(text, WebhookURL)
}
