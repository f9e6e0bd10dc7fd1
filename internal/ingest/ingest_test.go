package ingest

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type filePart struct {
	field, name, contentType string
	size                     int
}

func multipartRequest(t *testing.T, fields map[string]string, files ...filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(bytes.Repeat([]byte("x"), f.size))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/submit", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func tempFiles(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestDecode_JSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/submit",
		strings.NewReader(`{"firstName":"Ada","amount":1200,"captchaToken":"tok"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	p, err := Decode(req, Limits{})
	require.NoError(t, err)
	defer p.Cleanup()

	assert.Equal(t, "tok", p.Token)
	assert.Equal(t, "Ada", p.Values["firstName"])
	assert.Equal(t, float64(1200), p.Values["amount"])
	assert.NotContains(t, p.Values, TokenField)
	assert.Nil(t, p.Attachment)
}

func TestDecode_Urlencoded(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/submit",
		strings.NewReader("firstName=Ada&requestedSupport=Tickets&requestedSupport=Venue"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	p, err := Decode(req, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Values["firstName"])
	assert.Equal(t, []string{"Tickets", "Venue"}, p.Values["requestedSupport"])
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "bad json", contentType: "application/json", body: `{"firstName":`},
		{name: "unsupported type", contentType: "text/plain", body: "hello"},
		{name: "missing type", contentType: "", body: "{}"},
		{name: "bad boundary", contentType: "multipart/form-data", body: "--x\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			_, err := Decode(req, Limits{})
			var ingestErr *Error
			require.ErrorAs(t, err, &ingestErr)
			assert.Equal(t, CodeMalformed, ingestErr.Code)
		})
	}
}

func TestDecode_MultipartWithAttachment(t *testing.T) {
	dir := t.TempDir()
	req := multipartRequest(t,
		map[string]string{"firstName": "Ada", "captchaToken": "tok"},
		filePart{field: "proposal", name: "plan.pdf", size: 1024},
	)

	p, err := Decode(req, Limits{MaxFileSize: 4096, MaxFiles: 1, TempDir: dir})
	require.NoError(t, err)

	require.NotNil(t, p.Attachment)
	assert.Equal(t, "proposal", p.Attachment.Field)
	assert.Equal(t, "plan.pdf", p.Attachment.FileName())
	assert.Equal(t, int64(1024), p.Attachment.FileSize())
	assert.Equal(t, "application/pdf", p.Attachment.ContentType)
	assert.Same(t, p.Attachment, p.Values["proposal"])
	assert.Equal(t, "tok", p.Token)

	data, err := p.Attachment.ReadAll()
	require.NoError(t, err)
	assert.Len(t, data, 1024)

	require.NoError(t, p.Cleanup())
	assert.Empty(t, tempFiles(t, dir))
	assert.NoError(t, p.Cleanup())
}

func TestDecode_DataPart(t *testing.T) {
	req := multipartRequest(t, map[string]string{"data": `{"firstName":"Ada","team":["a","b"]}`})
	p, err := Decode(req, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Values["firstName"])
	assert.Equal(t, []any{"a", "b"}, p.Values["team"])
}

func TestDecode_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	req := multipartRequest(t,
		map[string]string{"firstName": "Ada"},
		filePart{field: "proposal", name: "plan.pdf", size: 5 << 10},
	)

	p, err := Decode(req, Limits{MaxFileSize: 4 << 10, MaxFiles: 1, TempDir: dir})
	assert.Nil(t, p)
	var ingestErr *Error
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, CodeFileTooLarge, ingestErr.Code)
	assert.Equal(t, "proposal", ingestErr.Field)
	assert.Empty(t, tempFiles(t, dir), "spooled file is removed on rejection")
}

func TestDecode_BodyCapOnScalarPartIsMalformed(t *testing.T) {
	dir := t.TempDir()
	fields := map[string]string{}
	for i := 0; i < 80; i++ {
		fields[fmt.Sprintf("note%02d", i)] = strings.Repeat("y", 90)
	}
	req := multipartRequest(t, fields)

	_, err := Decode(req, Limits{MaxFileSize: 10, MaxFiles: 0, MaxFieldBytes: 100, TempDir: dir})
	var ingestErr *Error
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, CodeMalformed, ingestErr.Code)
	assert.Empty(t, tempFiles(t, dir))
}

func TestDecode_TooManyFiles(t *testing.T) {
	dir := t.TempDir()
	req := multipartRequest(t, nil,
		filePart{field: "proposal", name: "a.pdf", size: 10},
		filePart{field: "budget", name: "b.pdf", size: 10},
	)

	_, err := Decode(req, Limits{MaxFiles: 1, TempDir: dir})
	var ingestErr *Error
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, CodeTooManyFiles, ingestErr.Code)
	assert.Equal(t, "budget", ingestErr.Field)
	assert.Empty(t, tempFiles(t, dir))
}

func TestDecode_NoFilesAllowed(t *testing.T) {
	req := multipartRequest(t, nil, filePart{field: "proposal", name: "a.pdf", size: 10})
	_, err := Decode(req, Limits{MaxFiles: 0, TempDir: t.TempDir()})
	var ingestErr *Error
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, CodeTooManyFiles, ingestErr.Code)
}

func TestDecode_ContentTypeFallback(t *testing.T) {
	req := multipartRequest(t, nil,
		filePart{field: "proposal", name: "deck.PPTX", contentType: "application/octet-stream", size: 3})
	p, err := Decode(req, Limits{MaxFiles: 1, TempDir: t.TempDir()})
	require.NoError(t, err)
	defer p.Cleanup()
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.presentationml.presentation", p.Attachment.ContentType)
}
