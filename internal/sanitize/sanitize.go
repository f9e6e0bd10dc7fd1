// Package sanitize normalizes raw submitted values before validation.
package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// strict drops every tag and keeps text content. Policies are safe for
// concurrent use once built.
var strict = bluemonday.StrictPolicy()

// Values returns a sanitized copy of raw. Strings, and strings inside lists,
// have markup and control characters stripped and are trimmed. Every other
// value, including attachments, is carried over untouched.
func Values(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = value(v)
	}
	return out
}

func value(v any) any {
	switch tv := v.(type) {
	case string:
		return String(tv)
	case []string:
		out := make([]string, len(tv))
		for i, s := range tv {
			out[i] = String(s)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			if s, ok := item.(string); ok {
				out[i] = String(s)
			} else {
				out[i] = item
			}
		}
		return out
	}
	return v
}

// maxPasses bounds how many layers of entity encoding are peeled off.
const maxPasses = 8

// String strips markup and control characters from s and trims it. Entity
// encoded markup is decoded and stripped as well, so the result is a fixed
// point: String(String(s)) == String(s).
func String(s string) string {
	for range maxPasses {
		next := pass(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func pass(s string) string {
	// The policy escapes entities on output; applicants' "&" and quotes
	// must reach the CRM verbatim.
	s = html.UnescapeString(s)
	if strings.ContainsAny(s, "<>") {
		s = html.UnescapeString(strict.Sanitize(s))
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
