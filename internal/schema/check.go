package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// shapes is safe for concurrent use once constructed.
var shapes = validator.New()

// check runs the built-in checks for f followed by its extra checks and
// returns the coerced value, or the first failing message. A nil value with
// an empty message means an absent optional field.
func (f FieldSpec) check(raw any) (any, string) {
	if isEmpty(raw) {
		if f.Required {
			return nil, MsgRequired
		}
		return nil, ""
	}

	var (
		v   any
		msg string
	)
	switch f.Kind {
	case ShortText, LongText:
		v, msg = f.checkText(raw, "")
	case Email:
		v, msg = f.checkText(raw, "email")
	case URL:
		v, msg = f.checkText(raw, "url")
	case Boolean:
		v, msg = checkBool(raw)
	case Number:
		v, msg = f.checkNumber(raw)
	case Choice:
		v, msg = f.checkChoice(raw)
	case MultiChoice:
		v, msg = f.checkMulti(raw)
	case File:
		v, msg = f.checkFile(raw)
	default:
		return nil, fmt.Sprintf("unsupported field kind %s", f.Kind)
	}
	if msg != "" {
		return nil, msg
	}

	for _, c := range f.Checks {
		if m := runCheck(c, v); m != "" {
			return nil, m
		}
	}
	return v, ""
}

// runCheck evaluates an extra check, reporting a panic as a failed check.
func runCheck(c Check, v any) (msg string) {
	defer func() {
		if recover() != nil {
			msg = MsgCheckPanicked
		}
	}()
	return c(v)
}

func isEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}

func (f FieldSpec) checkText(raw any, shape string) (any, string) {
	s, ok := raw.(string)
	if !ok {
		return nil, MsgNotText
	}
	if shape != "" && shapes.Var(s, shape) != nil {
		if shape == "email" {
			return nil, MsgEmail
		}
		return nil, MsgURL
	}
	n := utf8.RuneCountInString(s)
	if f.MinLen > 0 && n < f.MinLen {
		return nil, fmt.Sprintf("must be at least %d characters", f.MinLen)
	}
	if f.MaxLen > 0 && n > f.MaxLen {
		return nil, fmt.Sprintf("must be at most %d characters", f.MaxLen)
	}
	return s, ""
}

func checkBool(raw any) (any, string) {
	switch v := raw.(type) {
	case bool:
		return v, ""
	case string:
		switch strings.ToLower(v) {
		case "true", "on", "yes", "1":
			return true, ""
		case "false", "off", "no", "0":
			return false, ""
		}
	}
	return nil, MsgBoolean
}

func (f FieldSpec) checkNumber(raw any) (any, string) {
	n, ok := coerceNumber(raw)
	if !ok {
		return nil, MsgNumber
	}
	if f.Min != nil && n < *f.Min {
		return nil, "must be at least " + formatNumber(*f.Min)
	}
	if f.Max != nil && n > *f.Max {
		return nil, "must be at most " + formatNumber(*f.Max)
	}
	return n, ""
}

func coerceNumber(raw any) (float64, bool) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func (f FieldSpec) checkChoice(raw any) (any, string) {
	s, ok := raw.(string)
	if !ok {
		return nil, MsgNotText
	}
	if !contains(f.Options, s) {
		return nil, "must be one of: " + strings.Join(f.Options, ", ")
	}
	return s, ""
}

func (f FieldSpec) checkMulti(raw any) (any, string) {
	var picked []string
	switch v := raw.(type) {
	case string:
		picked = []string{v}
	case []string:
		picked = append(picked, v...)
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, MsgNotText
			}
			picked = append(picked, s)
		}
	default:
		return nil, MsgNotText
	}
	for _, p := range picked {
		if !contains(f.Options, p) {
			return nil, fmt.Sprintf("%q is not one of: %s", p, strings.Join(f.Options, ", "))
		}
	}
	if f.MinLen > 0 && len(picked) < f.MinLen {
		return nil, fmt.Sprintf("select at least %d", f.MinLen)
	}
	if f.MaxLen > 0 && len(picked) > f.MaxLen {
		return nil, fmt.Sprintf("select at most %d", f.MaxLen)
	}
	return picked, ""
}

func (f FieldSpec) checkFile(raw any) (any, string) {
	ref, ok := raw.(FileRef)
	if !ok {
		return nil, MsgNotFile
	}
	if f.MaxSize > 0 && ref.FileSize() > f.MaxSize {
		return nil, MsgFileTooLarge
	}
	if len(f.Accept) > 0 {
		ext := strings.ToLower(filepath.Ext(ref.FileName()))
		if !contains(f.Accept, ext) {
			return nil, MsgFileType
		}
	}
	return ref, ""
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Matches fails with msg unless a text value matches re.
func Matches(re *regexp.Regexp, msg string) Check {
	return func(v any) string {
		if s, ok := v.(string); ok && !re.MatchString(s) {
			return msg
		}
		return ""
	}
}

// Rejects fails with msg when a text value matches re.
func Rejects(re *regexp.Regexp, msg string) Check {
	return func(v any) string {
		if s, ok := v.(string); ok && re.MatchString(s) {
			return msg
		}
		return ""
	}
}

// MustBeTrue fails with msg unless a boolean value is true.
func MustBeTrue(msg string) Check {
	return func(v any) string {
		if b, ok := v.(bool); !ok || !b {
			return msg
		}
		return ""
	}
}
