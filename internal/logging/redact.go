// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redaction replaces personal data in log output.
const Redaction = "***"

// Separator delimits field=value pairs inside log messages.
const Separator = ";"

// PIIFields are the attribute keys and message fields treated as personal data.
var PIIFields = []string{"name", "email", "phone", "ssn", "password", "address"}

// FilterDatum replaces the value of every "field=value" pair in message whose
// field is listed, up to the next separator. Field names match case-insensitively.
func FilterDatum(fields []string, redaction, message, separator string) string {
	if len(fields) == 0 || message == "" {
		return message
	}
	return fieldPattern(fields, separator).ReplaceAllString(message, "${1}="+escapeTemplate(redaction))
}

func fieldPattern(fields []string, separator string) *regexp.Regexp {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)=[^` + regexp.QuoteMeta(separator) + `]*`)
}

func escapeTemplate(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// redactor holds the compiled filter for one handler chain.
type redactor struct {
	fields map[string]struct{}
	re     *regexp.Regexp
}

func newRedactor(fields []string) *redactor {
	r := &redactor{fields: make(map[string]struct{}, len(fields))}
	if len(fields) == 0 {
		return r
	}
	for _, f := range fields {
		r.fields[strings.ToLower(f)] = struct{}{}
	}
	r.re = fieldPattern(fields, Separator)
	return r
}

func (r *redactor) message(msg string) string {
	if r.re == nil {
		return msg
	}
	return r.re.ReplaceAllString(msg, "${1}="+escapeTemplate(Redaction))
}

// replaceAttr is a slog.HandlerOptions.ReplaceAttr hook masking PII keys.
func (r *redactor) replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if _, ok := r.fields[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redaction)
	}
	return a
}
