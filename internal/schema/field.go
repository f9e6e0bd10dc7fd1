// Package schema implements the declarative validation schemas used by every
// grant round: primitive field checks, cross-field rules and discriminated
// variants.
//
// A schema is built once with New and is read-only afterwards, so a single
// *Round may be shared by any number of concurrent submissions.
package schema

import "fmt"

// Kind is the semantic type of a field.
type Kind int

const (
	ShortText Kind = iota
	LongText
	Email
	URL
	Boolean
	Number
	Choice
	MultiChoice
	File
)

var kindNames = map[Kind]string{
	ShortText:   "shortText",
	LongText:    "longText",
	Email:       "email",
	URL:         "url",
	Boolean:     "boolean",
	Number:      "number",
	Choice:      "choice",
	MultiChoice: "multiChoice",
	File:        "file",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText lets the form contract endpoints render kinds by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// FieldSpec declares one field. Zero bounds mean unbounded.
//
// For text kinds MinLen/MaxLen count characters; for MultiChoice they count
// selected options. Options lists the accepted values of Choice and
// MultiChoice fields. Accept lists allowed file extensions (".pdf") and
// MaxSize caps a File field in bytes.
type FieldSpec struct {
	Name     string
	Kind     Kind
	Required bool
	MinLen   int
	MaxLen   int
	Min      *float64
	Max      *float64
	Options  []string
	Accept   []string
	MaxSize  int64
	Checks   []Check
}

// Check is an extra primitive check run after the built-in ones, in
// declaration order. It receives the coerced value and returns a non-empty
// message on failure.
type Check func(value any) string

// FileRef is what a File field holds after ingestion.
type FileRef interface {
	FileName() string
	FileSize() int64
}

// Bound is a convenience for the Min/Max pointers.
func Bound(v float64) *float64 {
	return &v
}
