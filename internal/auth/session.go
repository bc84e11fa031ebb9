package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
)

const (
	// DefaultSessionTTL is how long a session stays valid after login.
	DefaultSessionTTL = 24 * time.Hour
	// MinSecretLength is the minimum HMAC secret length in bytes.
	MinSecretLength = 32

	tokenIssuer = "cyberguard"
)

// Session is the server-side record bound to a signed session token.
type Session struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Username  string      `json:"username"`
	Role      models.Role `json:"role"`
	IssuedAt  time.Time   `json:"issuedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Claims is the JWT payload. The token only carries the session id; the
// binding itself lives in the SessionManager.
type Claims struct {
	jwt.RegisteredClaims
}

// SessionManager issues, resolves and revokes sessions. Tokens are HS256
// JWTs whose jti names a server-side session, so logout takes effect
// immediately even though the token itself is still well-formed.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

// NewSessionManager creates a manager signing with secret.
func NewSessionManager(secret string, ttl time.Duration) (*SessionManager, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("Session secret must be at least %d bytes", MinSecretLength), "session.secret", nil)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]Session),
	}, nil
}

// TTL returns the session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Login binds user into a new session and returns its signed token.
func (m *SessionManager) Login(user models.User) (string, Session, error) {
	now := m.now().UTC()
	s := Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   s.UserID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign session token: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return token, s, nil
}

func (m *SessionManager) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.ErrUnauthenticated()
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, errors.ErrUnauthenticated()
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.ID == "" {
		return nil, errors.ErrUnauthenticated()
	}
	return claims, nil
}

// Resolve verifies token and returns the session it names. Unsigned,
// tampered, expired and revoked tokens all fail with Unauthenticated.
func (m *SessionManager) Resolve(token string) (*Session, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	s, ok := m.sessions[claims.ID]
	m.mu.RUnlock()
	if !ok || !m.now().Before(s.ExpiresAt) {
		return nil, errors.ErrUnauthenticated()
	}
	return &s, nil
}

// Logout deletes the session named by token. Logging out an unknown or
// invalid token is not an error.
func (m *SessionManager) Logout(token string) {
	claims, err := m.parse(token)
	if err != nil {
		return
	}
	m.Revoke(claims.ID)
}

// Revoke deletes a session by id.
func (m *SessionManager) Revoke(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Active returns the number of live sessions.
func (m *SessionManager) Active() int {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if now.Before(s.ExpiresAt) {
			n++
		}
	}
	return n
}

// Prune drops expired sessions and returns how many were removed.
func (m *SessionManager) Prune(context.Context) int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

type sessionKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by WithSession, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
