package crm

import (
	"context"
	"sync"
	"time"
)

// expirySkew keeps a session from being handed out just before it lapses.
const expirySkew = 30 * time.Second

// Session is an authenticated CRM session.
type Session struct {
	AccessToken string
	InstanceURL string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Valid reports whether s can still be used at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && now.Before(s.ExpiresAt.Add(-expirySkew))
}

// Authenticator logs in with service credentials.
type Authenticator interface {
	Login(ctx context.Context) (*Session, error)
}

// SessionPool holds one process-wide session and renews it lazily. A session
// is renewed when it is past its expiry (minus skew) or after a CRM call
// reported it invalid through Invalidate.
type SessionPool struct {
	auth Authenticator
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	current *Session
}

// NewSessionPool returns a pool that treats sessions without an explicit
// expiry as valid for ttl after issue.
func NewSessionPool(auth Authenticator, ttl time.Duration) *SessionPool {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionPool{auth: auth, ttl: ttl, now: time.Now}
}

// Get returns the pooled session, logging in if there is none or it expired.
// Concurrent callers wait for a single login.
func (p *SessionPool) Get(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.current.Valid(now) {
		return p.current, nil
	}
	s, err := p.auth.Login(ctx)
	if err != nil {
		p.current = nil
		return nil, err
	}
	if s.IssuedAt.IsZero() {
		s.IssuedAt = now
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = s.IssuedAt.Add(p.ttl)
	}
	p.current = s
	return s, nil
}

// Invalidate drops s if it is still the pooled session.
func (p *SessionPool) Invalidate(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == s {
		p.current = nil
	}
}
