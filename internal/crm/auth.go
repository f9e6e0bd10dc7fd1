package crm

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

const tokenPath = "/services/oauth2/token"

// PasswordAuth implements the OAuth2 username-password flow.
type PasswordAuth struct {
	LoginURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
	HTTPClient    *http.Client
}

func (a *PasswordAuth) Login(ctx context.Context) (*Session, error) {
	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {a.ClientID},
		"client_secret": {a.ClientSecret},
		"username":      {a.Username},
		"password":      {a.Password + a.SecurityToken},
	}
	return requestToken(ctx, a.HTTPClient, a.LoginURL, form)
}

// JWTBearerAuth implements the OAuth2 JWT bearer flow: a short-lived RS256
// assertion signed with the connected app's key is exchanged for a session.
type JWTBearerAuth struct {
	LoginURL   string
	ClientID   string
	Username   string
	Audience   string
	Key        *rsa.PrivateKey
	HTTPClient *http.Client
}

// ParsePrivateKey decodes a PEM encoded RSA key for JWTBearerAuth.
func ParsePrivateKey(pem []byte) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("crm: parse private key: %w", err)
	}
	return key, nil
}

func (a *JWTBearerAuth) Login(ctx context.Context) (*Session, error) {
	assertion, err := a.assertion(time.Now())
	if err != nil {
		return nil, err
	}
	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	return requestToken(ctx, a.HTTPClient, a.LoginURL, form)
}

func (a *JWTBearerAuth) assertion(now time.Time) (string, error) {
	aud := a.Audience
	if aud == "" {
		aud = a.LoginURL
	}
	claims := jwt.RegisteredClaims{
		Issuer:    a.ClientID,
		Subject:   a.Username,
		Audience:  jwt.ClaimStrings{aud},
		ExpiresAt: jwt.NewNumericDate(now.Add(3 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.Key)
	if err != nil {
		return "", fmt.Errorf("crm: sign assertion: %w", err)
	}
	return signed, nil
}

func requestToken(ctx context.Context, hc *http.Client, loginURL string, form url.Values) (*Session, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(loginURL, "/")+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("crm: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm: login: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("crm: read login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Op:      "login",
			Status:  resp.StatusCode,
			Code:    gjson.GetBytes(body, "error").String(),
			Message: gjson.GetBytes(body, "error_description").String(),
		}
	}

	token := gjson.GetBytes(body, "access_token").String()
	instance := gjson.GetBytes(body, "instance_url").String()
	if token == "" || instance == "" {
		return nil, &APIError{Op: "login", Status: resp.StatusCode, Message: "response missing access_token or instance_url"}
	}
	s := &Session{AccessToken: token, InstanceURL: instance}
	if ms := gjson.GetBytes(body, "issued_at").Int(); ms > 0 {
		s.IssuedAt = time.UnixMilli(ms)
	}
	return s, nil
}
