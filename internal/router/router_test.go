package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/auth"
	"github.com/ethereum/esp-website-sub001/internal/crm"
	"github.com/ethereum/esp-website-sub001/internal/handler"
	"github.com/ethereum/esp-website-sub001/internal/idempotency"
	"github.com/ethereum/esp-website-sub001/internal/ingest"
	"github.com/ethereum/esp-website-sub001/internal/metrics"
	"github.com/ethereum/esp-website-sub001/internal/middleware"
	"github.com/ethereum/esp-website-sub001/internal/repository"
	"github.com/ethereum/esp-website-sub001/internal/rounds"
	"github.com/ethereum/esp-website-sub001/internal/router"
	"github.com/ethereum/esp-website-sub001/internal/service"
	"github.com/ethereum/esp-website-sub001/internal/verify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeVerifier struct {
	mu     sync.Mutex
	calls  int
	reject bool
}

func (v *fakeVerifier) Verify(_ context.Context, token, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.reject || token != "good-token" {
		return verify.ErrRejected
	}
	return nil
}

// fakeCRM counts calls; afterCreate runs once the record exists.
type fakeCRM struct {
	mu          sync.Mutex
	calls       []string
	created     crm.Attributes
	uploaded    []byte
	afterCreate func()
	createErr   error
	linkErr     error
}

func (f *fakeCRM) note(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCRM) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCRM) Authenticate(context.Context) (*crm.Session, error) {
	f.note("auth")
	return &crm.Session{AccessToken: "tok"}, nil
}

func (f *fakeCRM) CreateRecord(_ context.Context, _ *crm.Session, _, _ string, attrs crm.Attributes) (string, error) {
	f.note("create")
	f.mu.Lock()
	f.created = attrs
	f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.afterCreate != nil {
		f.afterCreate()
	}
	return "00Q000000000042", nil
}

func (f *fakeCRM) UploadDocument(_ context.Context, _ *crm.Session, _ string, content []byte) (string, error) {
	f.note("upload")
	f.mu.Lock()
	f.uploaded = content
	f.mu.Unlock()
	return "069000000000042", nil
}

func (f *fakeCRM) LinkDocument(context.Context, *crm.Session, string, string) (string, error) {
	f.note("link")
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return "06A000000000042", nil
}

type env struct {
	router   *chi.Mux
	verifier *fakeVerifier
	crm      *fakeCRM
	ledger   *repository.MemoryAttemptRepo
	tempDir  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zap.NewNop()
	reg, err := rounds.Default(nil)
	require.NoError(t, err)

	e := &env{
		verifier: &fakeVerifier{},
		crm:      &fakeCRM{},
		ledger:   repository.NewMemoryAttemptRepo(),
		tempDir:  t.TempDir(),
	}
	m := metrics.New()
	orch := service.NewOrchestrator(service.OrchestratorConfig{
		CRM:      e.crm,
		Ledger:   e.ledger,
		Idem:     idempotency.NewMemoryStore(time.Hour),
		Metrics:  m,
		Log:      log,
		Timeouts: service.DefaultTimeouts(),
	})
	pipeline := verify.Middleware(e.verifier, log)(service.NewPipeline(reg, orch, log))

	tokens := auth.NewTokens("test-secret", time.Hour)
	operators := service.NewOperatorService(repository.NewMemoryOperatorRepo(), tokens)
	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	require.NoError(t, operators.SeedOperator(context.Background(), "ops@example.org", hash))

	limits := ingest.Limits{MaxFileSize: 4 << 20, MaxFiles: 1, TempDir: e.tempDir}
	e.router = router.New(router.Deps{
		Log:         log,
		Metrics:     m,
		Tokens:      tokens,
		RateLimiter: middleware.NewRateLimiter(6000, 100, log),
		CORSOrigins: []string{"*"},
		Health:      handler.NewHealthHandler(nil),
		Rounds:      handler.NewRoundsHandler(reg),
		Submissions: handler.NewSubmissionHandler(reg, pipeline, limits, m, log),
		Operators:   handler.NewOperatorHandler(operators, service.NewLedgerService(e.ledger), log),
	})
	return e
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req.RemoteAddr = "203.0.113.7:4711"
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) postJSON(path string, body map[string]any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *env) postMultipart(t *testing.T, path string, fields map[string]string, file string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != "" {
		fw, err := mw.CreateFormFile("proposal", file)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req)
}

func (e *env) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	require.NoError(t, err)
	var names []string
	for _, de := range entries {
		names = append(names, de.Name())
	}
	return names
}

func smallGrant() map[string]any {
	return map[string]any{
		"captchaToken":       "good-token",
		"firstName":          "Jane",
		"lastName":           "Doe",
		"email":              "a@b.com",
		"country":            "Portugal",
		"termsAccepted":      true,
		"projectName":        "Docs translation",
		"projectDescription": "Translate the staking guides into Portuguese and Spanish.",
		"problemBeingSolved": "Guides are English only.",
		"requestedAmount":    12500,
		"category":           "Community & Education",
	}
}

func projectGrantFields() map[string]string {
	return map[string]string{
		"captchaToken":       "good-token",
		"firstName":          "Jane",
		"lastName":           "Doe",
		"email":              "a@b.com",
		"country":            "Portugal",
		"termsAccepted":      "true",
		"applicantType":      "Individual",
		"profileLink":        "https://github.com/janedoe",
		"projectName":        "zk light client",
		"projectDescription": "A light client that verifies sync committee proofs in the browser.",
		"problemBeingSolved": "Trust in RPC providers.",
		"requestedAmount":    "45000",
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestSubmit_Success(t *testing.T) {
	e := newEnv(t)
	rec := e.postJSON("/api/v1/rounds/small-grants/submissions", smallGrant())

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["attemptId"])
	assert.Equal(t, []string{"auth", "create"}, e.crm.Calls())
	assert.Equal(t, "Small", e.crm.created["Grant_Size__c"])
}

func TestSubmit_MissingRequiredFieldNeverReachesCRM(t *testing.T) {
	e := newEnv(t)
	body := smallGrant()
	body["firstName"] = ""

	rec := e.postJSON("/api/v1/rounds/small-grants/submissions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"validation_failed","fields":{"firstName":"required"}}`, rec.Body.String())
	assert.Empty(t, e.crm.Calls())
}

func TestSubmit_OversizedAttachmentRejectedBeforeVerification(t *testing.T) {
	e := newEnv(t)
	rec := e.postMultipart(t, "/api/v1/rounds/project-grants/submissions",
		projectGrantFields(), "proposal.pdf", bytes.Repeat([]byte("x"), 5<<20))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"fileTooLarge","fields":{"proposal":"fileTooLarge"}}`, rec.Body.String())
	assert.Zero(t, e.verifier.calls)
	assert.Empty(t, e.crm.Calls())
	assert.Empty(t, e.tempFiles(t))
}

func TestSubmit_RejectedTokenStopsPipeline(t *testing.T) {
	e := newEnv(t)
	e.verifier.reject = true
	body := smallGrant()
	body["firstName"] = "" // would fail validation if it ran

	rec := e.postJSON("/api/v1/rounds/small-grants/submissions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"verification_failed","fields":{"captchaToken":"verification failed"}}`, rec.Body.String())
	assert.Equal(t, 1, e.verifier.calls)
	assert.Empty(t, e.crm.Calls())
}

func TestSubmit_MissingTokenFailsClosed(t *testing.T) {
	e := newEnv(t)
	body := smallGrant()
	delete(body, "captchaToken")

	rec := e.postJSON("/api/v1/rounds/small-grants/submissions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, e.verifier.calls)
	assert.Empty(t, e.crm.Calls())
}

func TestSubmit_TokenFromHeader(t *testing.T) {
	e := newEnv(t)
	body := smallGrant()
	delete(body, "captchaToken")
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rounds/small-grants/submissions", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handler.VerificationTokenHeader, "good-token")

	rec := e.do(req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSubmit_TicketsNeedTicketRequest(t *testing.T) {
	e := newEnv(t)
	rec := e.postJSON("/api/v1/rounds/community-support/submissions", map[string]any{
		"captchaToken":          "good-token",
		"firstName":             "Jane",
		"lastName":              "Doe",
		"email":                 "a@b.com",
		"country":               "Portugal",
		"termsAccepted":         true,
		"supportType":           "Community Initiative",
		"initiativeName":        "Local meetup series",
		"initiativeDescription": "Monthly meetups for builders in our city, with workshops.",
		"requestedSupport":      []string{"Tickets", "Speakers"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"validation_failed","fields":{"ticketRequest":"required when Tickets selected"}}`, rec.Body.String())
	assert.Empty(t, e.crm.Calls())
}

func TestSubmit_WithAttachment(t *testing.T) {
	e := newEnv(t)
	rec := e.postMultipart(t, "/api/v1/rounds/project-grants/submissions",
		projectGrantFields(), "proposal.pdf", []byte("%PDF-1.7 proposal"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"auth", "create", "upload", "link"}, e.crm.Calls())
	assert.Equal(t, []byte("%PDF-1.7 proposal"), e.crm.uploaded)
	assert.Empty(t, e.tempFiles(t), "temp file removed after the request")
}

func TestSubmit_AttachmentReleasedOnEveryExit(t *testing.T) {
	crmDown := &crm.APIError{Op: "create", Status: http.StatusServiceUnavailable, Code: "SERVER_UNAVAILABLE"}
	tests := []struct {
		name   string
		setup  func(e *env, fields map[string]string)
		status int
		calls  []string
	}{
		{
			name:   "validation failure",
			setup:  func(_ *env, fields map[string]string) { fields["firstName"] = "" },
			status: http.StatusBadRequest,
		},
		{
			name:   "rejected token",
			setup:  func(_ *env, fields map[string]string) { fields["captchaToken"] = "forged" },
			status: http.StatusBadRequest,
		},
		{
			name:   "record creation failure",
			setup:  func(e *env, _ map[string]string) { e.crm.createErr = crmDown },
			status: http.StatusInternalServerError,
			calls:  []string{"auth", "create"},
		},
		{
			name:   "link failure",
			setup:  func(e *env, _ map[string]string) { e.crm.linkErr = errors.New("link refused") },
			status: http.StatusInternalServerError,
			calls:  []string{"auth", "create", "upload", "link"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			fields := projectGrantFields()
			tt.setup(e, fields)

			rec := e.postMultipart(t, "/api/v1/rounds/project-grants/submissions",
				fields, "proposal.pdf", []byte("%PDF-1.7 proposal"))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.calls, e.crm.Calls())
			assert.Empty(t, e.tempFiles(t), "temp file removed")
		})
	}
}

func TestSubmit_EncodedMarkupNeverReachesCRM(t *testing.T) {
	e := newEnv(t)
	body := smallGrant()
	body["projectName"] = "&lt;img src=x onerror=alert(1)&gt; <b>Docs</b> translation"

	rec := e.postJSON("/api/v1/rounds/small-grants/submissions", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Docs translation", e.crm.created["Project_Name__c"])
}

func TestSubmit_UnreadableAttachmentKeepsRecord(t *testing.T) {
	e := newEnv(t)
	e.crm.afterCreate = func() {
		entries, _ := os.ReadDir(e.tempDir)
		for _, de := range entries {
			os.Remove(filepath.Join(e.tempDir, de.Name()))
		}
	}

	rec := e.postMultipart(t, "/api/v1/rounds/project-grants/submissions",
		projectGrantFields(), "proposal.pdf", []byte("%PDF-1.7"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"service_unavailable"}`, rec.Body.String())
	assert.Equal(t, []string{"auth", "create"}, e.crm.Calls(), "upload never called with unread content")

	// The created record is visible to operators as a partial write.
	token := login(t, e)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/operator/attempts?status=partial", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = e.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var page service.AttemptPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Attempts, 1)
	assert.Equal(t, "00Q000000000042", page.Attempts[0].RecordID)
	assert.Equal(t, "AttachmentUploading", page.Attempts[0].FailedStep)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/operator/attempts/"+page.Attempts[0].AttemptID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = e.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmit_UnknownRound(t *testing.T) {
	e := newEnv(t)
	rec := e.postJSON("/api/v1/rounds/retro-grants/submissions", smallGrant())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, e.verifier.calls)
}

func TestSubmit_MalformedBody(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rounds/small-grants/submissions", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformedBody", decode(t, rec)["error"])
}

func TestRounds(t *testing.T) {
	e := newEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/rounds", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rounds []struct {
			ID        string `json:"id"`
			Multipart bool   `json:"multipart"`
		} `json:"rounds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Rounds, 4)
	assert.Equal(t, "project-grants", list.Rounds[0].ID)
	assert.True(t, list.Rounds[0].Multipart)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/rounds/small-grants/form", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var form rounds.Form
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &form))
	assert.Equal(t, "small-grants", form.RoundID)
	for _, f := range form.Fields {
		assert.NotEqual(t, "website", f.Name, "removed by override")
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/rounds/nope/form", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func login(t *testing.T, e *env) string {
	t.Helper()
	data, _ := json.Marshal(map[string]string{"email": "ops@example.org", "password": "hunter22"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/operator/login", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func TestOperator(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/operator/attempts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	data, _ := json.Marshal(map[string]string{"email": "ops@example.org", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/operator/login", bytes.NewReader(data))
	rec = e.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := login(t, e)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/operator/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = e.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.org", decode(t, rec)["email"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/operator/attempts?status=bogus", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusBadRequest, e.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/operator/attempts/missing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNotFound, e.do(req).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	e.postJSON("/api/v1/rounds/small-grants/submissions", smallGrant())
	rec = e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `grant_intake_submissions_total{result="success",round="small-grants"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/api/v1/rounds/{roundID}/submissions"`)
}

func TestHealth_Degraded(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{"oxidb": downPinger{}})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","dependencies":{"oxidb":"down"}}`, rec.Body.String())
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }
