package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/submission"
)

func siteverifyServer(t *testing.T, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "s3cret", r.PostForm.Get("secret"))
		assert.Equal(t, "tok", r.PostForm.Get("response"))
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSiteVerify(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		minScore float64
		wantErr  error
	}{
		{name: "accepted", body: `{"success":true}`},
		{name: "rejected", body: `{"success":false,"error-codes":["timeout-or-duplicate"]}`, wantErr: ErrRejected},
		{name: "low score", body: `{"success":true,"score":0.2}`, minScore: 0.5, wantErr: ErrRejected},
		{name: "score ok", body: `{"success":true,"score":0.9}`, minScore: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := siteverifyServer(t, tt.body, &calls)
			v := NewSiteVerify(srv.URL, "s3cret", tt.minScore, time.Second)

			err := v.Verify(context.Background(), "tok", "203.0.113.9")
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrFailed)
			}
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestSiteVerify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewSiteVerify(url, "s3cret", 0, time.Second).Verify(context.Background(), "tok", "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMiddleware_FailsClosed(t *testing.T) {
	var calls atomic.Int32
	srv := siteverifyServer(t, `{"success":false}`, &calls)
	v := NewSiteVerify(srv.URL, "s3cret", 0, time.Second)

	reached := false
	next := submission.HandlerFunc(func(context.Context, *submission.Attempt) error {
		reached = true
		return nil
	})
	h := Middleware(v, zap.NewNop())(next)

	err := h.Handle(context.Background(), &submission.Attempt{ID: "a1"})
	require.ErrorIs(t, err, ErrMissingToken)
	assert.Equal(t, int32(0), calls.Load(), "no external call without a token")

	err = h.Handle(context.Background(), &submission.Attempt{ID: "a2", Token: "tok"})
	require.ErrorIs(t, err, ErrRejected)
	assert.False(t, reached)
}

func TestMiddleware_PassesThrough(t *testing.T) {
	var calls atomic.Int32
	srv := siteverifyServer(t, `{"success":true}`, &calls)
	h := Middleware(NewSiteVerify(srv.URL, "s3cret", 0, time.Second), zap.NewNop())(
		submission.HandlerFunc(func(_ context.Context, a *submission.Attempt) error {
			a.RecordID = "seen"
			return nil
		}))

	a := &submission.Attempt{ID: "a3", Token: "tok"}
	require.NoError(t, h.Handle(context.Background(), a))
	assert.Equal(t, "seen", a.RecordID)
}
