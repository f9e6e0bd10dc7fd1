package schema

import (
	"fmt"
	"strings"
)

// Messages shared by the built-in checks.
const (
	MsgRequired      = "required"
	MsgNotText       = "must be text"
	MsgEmail         = "must be a valid email address"
	MsgURL           = "must be a valid URL"
	MsgBoolean       = "must be true or false"
	MsgNumber        = "must be a number"
	MsgNotFile       = "must be a file"
	MsgFileTooLarge  = "file is too large"
	MsgFileType      = "file type is not accepted"
	MsgUnknownValue  = "unrecognized value"
	MsgCheckPanicked = "could not be checked"
)

// FieldError is a single validation failure attached to a field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field failure of one validation pass, at most
// one per field, in schema declaration order.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

// Map returns the errors keyed by field name.
func (e *ValidationError) Map() map[string]string {
	m := make(map[string]string, len(e.Errors))
	for _, fe := range e.Errors {
		m[fe.Field] = fe.Message
	}
	return m
}

// collector keeps the first message reported per field.
type collector struct {
	seen map[string]bool
	errs []FieldError
}

func newCollector() *collector {
	return &collector{seen: map[string]bool{}}
}

func (c *collector) add(field, msg string) {
	if c.seen[field] {
		return
	}
	c.seen[field] = true
	c.errs = append(c.errs, FieldError{Field: field, Message: msg})
}

func (c *collector) has(field string) bool {
	return c.seen[field]
}

func (c *collector) err() *ValidationError {
	if len(c.errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: c.errs}
}
