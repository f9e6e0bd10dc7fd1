// Package crm is a Salesforce REST client covering the calls the submission
// pipeline makes: login, record creation, document upload and linking.
package crm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	maxResponseBytes  = 1 << 20
	defaultAPIVersion = "59.0"
)

// Attributes is a flat CRM attribute map.
type Attributes map[string]any

// APIError is a failed CRM call. Message holds the CRM's own text and must
// not be shown to applicants.
type APIError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("crm: %s: status %d: %s: %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("crm: %s: status %d: %s", e.Op, e.Status, e.Message)
}

// SessionExpired reports whether the CRM rejected the session itself.
func (e *APIError) SessionExpired() bool {
	return e.Status == http.StatusUnauthorized || e.Code == "INVALID_SESSION_ID"
}

// Config configures a Client.
type Config struct {
	APIVersion string
	Timeout    time.Duration
}

// Client issues CRM calls. Each method makes exactly one logical call and
// never retries.
type Client struct {
	http       *http.Client
	apiVersion string
	sessions   *SessionPool
}

func NewClient(cfg Config, sessions *SessionPool) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		apiVersion: version,
		sessions:   sessions,
	}
}

// Authenticate returns a usable session from the pool.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	return c.sessions.Get(ctx)
}

// CreateRecord creates one record of object and returns its id.
func (c *Client) CreateRecord(ctx context.Context, s *Session, object, recordTypeID string, attrs Attributes) (string, error) {
	body := make(Attributes, len(attrs)+1)
	for k, v := range attrs {
		body[k] = v
	}
	if recordTypeID != "" {
		body["RecordTypeId"] = recordTypeID
	}
	resp, err := c.do(ctx, s, "create "+object, http.MethodPost, c.sobjectPath(object), body)
	if err != nil {
		return "", err
	}
	return requireID("create "+object, resp)
}

// UploadDocument stores content as a new document and returns the document
// id that links refer to.
func (c *Client) UploadDocument(ctx context.Context, s *Session, filename string, content []byte) (string, error) {
	version := Attributes{
		"Title":        strings.TrimSuffix(filename, extOf(filename)),
		"PathOnClient": filename,
		"VersionData":  base64.StdEncoding.EncodeToString(content),
	}
	resp, err := c.do(ctx, s, "upload document", http.MethodPost, c.sobjectPath("ContentVersion"), version)
	if err != nil {
		return "", err
	}
	versionID, err := requireID("upload document", resp)
	if err != nil {
		return "", err
	}

	path := c.sobjectPath("ContentVersion") + url.PathEscape(versionID) + "?fields=ContentDocumentId"
	resp, err = c.do(ctx, s, "resolve document", http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	docID := gjson.GetBytes(resp, "ContentDocumentId").String()
	if docID == "" {
		return "", &APIError{Op: "resolve document", Status: http.StatusOK, Message: "response missing ContentDocumentId"}
	}
	return docID, nil
}

// LinkDocument links documentID to recordID and returns the link id.
func (c *Client) LinkDocument(ctx context.Context, s *Session, documentID, recordID string) (string, error) {
	link := Attributes{
		"ContentDocumentId": documentID,
		"LinkedEntityId":    recordID,
		"ShareType":         "V",
	}
	resp, err := c.do(ctx, s, "link document", http.MethodPost, c.sobjectPath("ContentDocumentLink"), link)
	if err != nil {
		return "", err
	}
	return requireID("link document", resp)
}

func (c *Client) sobjectPath(object string) string {
	return "/services/data/v" + c.apiVersion + "/sobjects/" + url.PathEscape(object) + "/"
}

func (c *Client) do(ctx context.Context, s *Session, op, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("crm: %s: marshal: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.InstanceURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("crm: %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm: %s: %w", op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("crm: %s: read response: %w", op, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{
			Op:      op,
			Status:  resp.StatusCode,
			Code:    gjson.GetBytes(data, "0.errorCode").String(),
			Message: gjson.GetBytes(data, "0.message").String(),
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if apiErr.SessionExpired() {
			c.sessions.Invalidate(s)
		}
		return nil, apiErr
	}
	return data, nil
}

func requireID(op string, resp []byte) (string, error) {
	id := gjson.GetBytes(resp, "id").String()
	if id == "" {
		return "", &APIError{Op: op, Status: http.StatusOK, Message: "response missing id"}
	}
	if r := gjson.GetBytes(resp, "success"); r.Exists() && !r.Bool() {
		return "", &APIError{Op: op, Status: http.StatusOK, Message: gjson.GetBytes(resp, "errors.0.message").String()}
	}
	return id, nil
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}
