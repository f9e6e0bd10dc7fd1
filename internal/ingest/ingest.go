// Package ingest decodes submission request bodies into a flat field map and
// at most a configured number of attachments spooled to temporary files.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// TokenField is the body field carrying the human-verification token.
const TokenField = "captchaToken"

// Code identifies an ingestion failure.
type Code string

const (
	CodeFileTooLarge Code = "fileTooLarge"
	CodeTooManyFiles Code = "tooManyFiles"
	CodeMalformed    Code = "malformedBody"
)

// Error is returned for bodies rejected before validation.
type Error struct {
	Code  Code
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest: %s: %v", e.Code, e.Err)
	}
	return "ingest: " + string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Limits bound what Decode accepts.
type Limits struct {
	MaxFileSize   int64
	MaxFiles      int
	MaxFieldBytes int64
	TempDir       string
}

func (l Limits) withDefaults() Limits {
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = 4 << 20
	}
	if l.MaxFiles < 0 {
		l.MaxFiles = 0
	}
	if l.MaxFieldBytes <= 0 {
		l.MaxFieldBytes = 64 << 10
	}
	return l
}

// Attachment is an uploaded file spooled to a temporary path. Size is the
// number of bytes actually received.
type Attachment struct {
	Field       string
	Path        string
	Filename    string
	ContentType string
	Size        int64
}

func (a *Attachment) FileName() string { return a.Filename }
func (a *Attachment) FileSize() int64  { return a.Size }

// ReadAll loads the spooled file into memory.
func (a *Attachment) ReadAll() ([]byte, error) {
	return os.ReadFile(a.Path)
}

// Payload is a decoded body.
type Payload struct {
	Values     map[string]any
	Attachment *Attachment
	Token      string

	spooled []*Attachment
}

// Cleanup removes every temporary file the payload owns. It is safe to call
// more than once and on a nil payload.
func (p *Payload) Cleanup() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, a := range p.spooled {
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	p.spooled = nil
	return errors.Join(errs...)
}

// Decode reads r's body. JSON and urlencoded bodies carry scalar fields only;
// multipart bodies may also carry up to limits.MaxFiles files. On error no
// temporary file is left behind.
func Decode(r *http.Request, limits Limits) (*Payload, error) {
	limits = limits.withDefaults()

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, &Error{Code: CodeMalformed, Err: err}
	}

	var p *Payload
	switch mediaType {
	case "application/json":
		p, err = decodeJSON(r, limits)
	case "application/x-www-form-urlencoded":
		p, err = decodeForm(r, limits)
	case "multipart/form-data":
		p, err = decodeMultipart(r, limits)
	default:
		return nil, &Error{Code: CodeMalformed, Err: fmt.Errorf("unsupported content type %q", mediaType)}
	}
	if err != nil {
		p.Cleanup()
		return nil, err
	}
	p.takeToken()
	return p, nil
}

func (p *Payload) takeToken() {
	if s, ok := p.Values[TokenField].(string); ok {
		p.Token = s
	}
	delete(p.Values, TokenField)
}

func decodeJSON(r *http.Request, limits Limits) (*Payload, error) {
	body := http.MaxBytesReader(nil, r.Body, limits.MaxFieldBytes*16)
	var values map[string]any
	if err := json.NewDecoder(body).Decode(&values); err != nil {
		return nil, &Error{Code: CodeMalformed, Err: err}
	}
	if values == nil {
		values = map[string]any{}
	}
	return &Payload{Values: values}, nil
}

func decodeForm(r *http.Request, limits Limits) (*Payload, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, limits.MaxFieldBytes*16)
	if err := r.ParseForm(); err != nil {
		return nil, &Error{Code: CodeMalformed, Err: err}
	}
	p := &Payload{Values: map[string]any{}}
	for k, vs := range r.PostForm {
		for _, v := range vs {
			p.add(k, v)
		}
	}
	return p, nil
}

func decodeMultipart(r *http.Request, limits Limits) (*Payload, error) {
	// The per-file limit gives the precise error; this only stops runaway
	// bodies of many small parts.
	maxBody := limits.MaxFileSize*int64(limits.MaxFiles+1) + limits.MaxFieldBytes*64
	r.Body = http.MaxBytesReader(nil, r.Body, maxBody)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, &Error{Code: CodeMalformed, Err: err}
	}

	p := &Payload{Values: map[string]any{}}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return p, nil
		}
		if err != nil {
			return p, bodyError("", false, err)
		}
		if err := p.readPart(part, limits); err != nil {
			part.Close()
			return p, err
		}
		part.Close()
	}
}

func (p *Payload) readPart(part *multipart.Part, limits Limits) error {
	name := part.FormName()
	if name == "" {
		return nil
	}

	if part.FileName() == "" {
		data, err := io.ReadAll(io.LimitReader(part, limits.MaxFieldBytes+1))
		if err != nil {
			return bodyError(name, false, err)
		}
		if int64(len(data)) > limits.MaxFieldBytes {
			return &Error{Code: CodeMalformed, Field: name, Err: errors.New("field value too long")}
		}
		if name == "data" {
			var merged map[string]any
			if json.Unmarshal(data, &merged) == nil {
				for k, v := range merged {
					p.Values[k] = v
				}
				return nil
			}
		}
		p.add(name, string(data))
		return nil
	}

	if len(p.spooled) >= limits.MaxFiles {
		return &Error{Code: CodeTooManyFiles, Field: name}
	}
	att, err := spool(part, name, limits)
	if att != nil {
		p.spooled = append(p.spooled, att)
	}
	if err != nil {
		return err
	}
	p.Values[name] = att
	if p.Attachment == nil {
		p.Attachment = att
	}
	return nil
}

// spool copies part to a temp file, failing as soon as it exceeds the limit.
// A non-nil attachment is returned whenever a temp file was created.
func spool(part *multipart.Part, field string, limits Limits) (*Attachment, error) {
	f, err := os.CreateTemp(limits.TempDir, "grant-attachment-*")
	if err != nil {
		return nil, fmt.Errorf("ingest: create temp file: %w", err)
	}
	att := &Attachment{
		Field:       field,
		Path:        f.Name(),
		Filename:    filepath.Base(part.FileName()),
		ContentType: part.Header.Get("Content-Type"),
	}
	if att.ContentType == "" || att.ContentType == "application/octet-stream" {
		att.ContentType = detectContentType(att.Filename)
	}

	n, copyErr := io.Copy(f, io.LimitReader(part, limits.MaxFileSize+1))
	closeErr := f.Close()
	att.Size = n
	switch {
	case copyErr != nil:
		return att, bodyError(field, true, copyErr)
	case n > limits.MaxFileSize:
		return att, &Error{Code: CodeFileTooLarge, Field: field}
	case closeErr != nil:
		return att, fmt.Errorf("ingest: close temp file: %w", closeErr)
	}
	return att, nil
}

// bodyError classifies a read failure. Hitting the body cap counts as an
// oversized file only while a file part is being read.
func bodyError(field string, inFile bool, err error) error {
	var tooBig *http.MaxBytesError
	if inFile && errors.As(err, &tooBig) {
		return &Error{Code: CodeFileTooLarge, Field: field, Err: err}
	}
	return &Error{Code: CodeMalformed, Field: field, Err: err}
}

func (p *Payload) add(name, v string) {
	switch prev := p.Values[name].(type) {
	case nil:
		p.Values[name] = v
	case string:
		p.Values[name] = []string{prev, v}
	case []string:
		p.Values[name] = append(prev, v)
	default:
		p.Values[name] = v
	}
}

func detectContentType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	types := map[string]string{
		".pdf":  "application/pdf",
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".doc":  "application/msword",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		".ppt":  "application/vnd.ms-powerpoint",
		".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		".odt":  "application/vnd.oasis.opendocument.text",
		".txt":  "text/plain",
		".md":   "text/markdown",
	}
	if ct, ok := types[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
