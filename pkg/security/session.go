package security

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionTTL is the fixed validity of an admin session token
const DefaultSessionTTL = 12 * time.Hour

// SessionClaims is the payload of an admin session token
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// SessionConfig configures a SessionAuthority
type SessionConfig struct {
	Verifier   CredentialVerifier
	SigningKey []byte
	TTL        time.Duration
	Now        func() time.Time
}

// SessionAuthority issues and verifies HS256-signed admin session tokens.
// Tokens are self-contained; the only server-side state is a denylist of
// token IDs revoked before their expiry.
type SessionAuthority struct {
	verifier CredentialVerifier
	key      []byte
	ttl      time.Duration
	now      func() time.Time

	revoked map[string]time.Time // jti -> expiry
	mu      sync.RWMutex
}

// NewSessionAuthority creates a session authority
func NewSessionAuthority(cfg SessionConfig) (*SessionAuthority, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("credential verifier is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("signing key cannot be empty")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &SessionAuthority{
		verifier: cfg.Verifier,
		key:      cfg.SigningKey,
		ttl:      ttl,
		now:      now,
		revoked:  make(map[string]time.Time),
	}, nil
}

// Authenticate checks the credentials and issues a signed token
func (s *SessionAuthority) Authenticate(username, password string) (string, *SessionClaims, error) {
	if !s.verifier.VerifyCredentials(username, password) {
		return "", nil, fmt.Errorf("%w: invalid credentials", types.ErrAuthenticationFailed)
	}

	issuedAt := s.now()
	claims := &SessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return token, claims, nil
}

// Verify checks signature, expiry and revocation of a token
func (s *SessionAuthority) Verify(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", types.ErrAuthenticationFailed)
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", types.ErrAuthenticationFailed)
		}
		return nil, fmt.Errorf("%w: invalid token", types.ErrAuthenticationFailed)
	}

	if claims.ID != "" && s.isRevoked(claims.ID) {
		return nil, fmt.Errorf("%w: token revoked", types.ErrAuthenticationFailed)
	}

	return claims, nil
}

// Revoke denylists a token until its natural expiry
func (s *SessionAuthority) Revoke(claims *SessionClaims) {
	if claims == nil || claims.ID == "" {
		return
	}

	expiry := s.now().Add(s.ttl)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}

	s.mu.Lock()
	s.revoked[claims.ID] = expiry
	s.mu.Unlock()
}

// CleanupRevoked drops denylist entries whose tokens have expired anyway
func (s *SessionAuthority) CleanupRevoked() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, expiry := range s.revoked {
		if now.After(expiry) {
			delete(s.revoked, id)
		}
	}
}

// RevokedCount returns the current denylist size
func (s *SessionAuthority) RevokedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revoked)
}

// TTL returns the session validity
func (s *SessionAuthority) TTL() time.Duration {
	return s.ttl
}

func (s *SessionAuthority) isRevoked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[id]
	return ok
}
