// Package verify checks human-verification tokens against a siteverify
// service (reCAPTCHA, hCaptcha and Turnstile share the protocol) before any
// other processing of a submission.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/submission"
)

// ErrFailed is matched by every verification failure.
var ErrFailed = errors.New("verification failed")

var (
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrFailed)
	ErrRejected     = fmt.Errorf("%w: token rejected", ErrFailed)
	ErrUnavailable  = fmt.Errorf("%w: service unavailable", ErrFailed)
)

// Verifier asks the verification service for a verdict on token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// SiteVerify is a siteverify client. Verdicts are never cached and calls are
// never retried.
type SiteVerify struct {
	endpoint string
	secret   string
	minScore float64
	http     *http.Client
}

func NewSiteVerify(endpoint, secret string, minScore float64, timeout time.Duration) *SiteVerify {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &SiteVerify{
		endpoint: endpoint,
		secret:   secret,
		minScore: minScore,
		http:     &http.Client{Timeout: timeout},
	}
}

func (v *SiteVerify) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return ErrMissingToken
	}
	form := url.Values{"secret": {v.secret}, "response": {token}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if !gjson.GetBytes(body, "success").Bool() {
		return fmt.Errorf("%w: %s", ErrRejected, gjson.GetBytes(body, "error-codes").Raw)
	}
	if score := gjson.GetBytes(body, "score"); v.minScore > 0 && score.Exists() && score.Float() < v.minScore {
		return fmt.Errorf("%w: score %.2f below %.2f", ErrRejected, score.Float(), v.minScore)
	}
	return nil
}

// Middleware wraps the submission handler so that nothing downstream runs
// unless the attempt's token is accepted. It is schema agnostic.
func Middleware(v Verifier, log *zap.Logger) func(submission.Handler) submission.Handler {
	return func(next submission.Handler) submission.Handler {
		return submission.HandlerFunc(func(ctx context.Context, a *submission.Attempt) error {
			if a.Token == "" {
				log.Info("verification token missing", zap.String("attempt", a.ID), zap.String("round", a.RoundID))
				return ErrMissingToken
			}
			if err := v.Verify(ctx, a.Token, a.RemoteIP); err != nil {
				if errors.Is(err, ErrUnavailable) {
					log.Warn("verification service unavailable", zap.String("attempt", a.ID), zap.Error(err))
				} else {
					log.Info("verification rejected", zap.String("attempt", a.ID), zap.Error(err))
				}
				return err
			}
			return next.Handle(ctx, a)
		})
	}
}
