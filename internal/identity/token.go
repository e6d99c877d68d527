package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "aicomplyr"
	defaultTokenTTL = 24 * time.Hour
)

// Claims is the decoded payload of a bearer token: an ephemeral, signed
// projection of exactly one context. Tokens are the only carrier of context
// between requests; the server holds no session state.
type Claims struct {
	UserID              string       `json:"user_id"`
	Email               string       `json:"email,omitempty"`
	Name                string       `json:"name,omitempty"`
	ContextID           string       `json:"context_id"`
	ContextType         ContextKind  `json:"context_type"`
	EnterpriseID        string       `json:"enterprise_id"`
	AgencySeatID        string       `json:"agency_seat_id,omitempty"`
	PartnerEnterpriseID string       `json:"partner_enterprise_id,omitempty"`
	ClientEnterpriseID  string       `json:"client_enterprise_id,omitempty"`
	Role                string       `json:"role"`
	Permissions         []Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies context-aware bearer tokens. The signing
// key is process configuration, not a data-model concern.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithTokenTTL overrides the fixed token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenService constructs a TokenService signing with HS256.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("identity: token secret is not configured")
	}
	s := &TokenService{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL reports the configured token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Mint signs a token embedding the given context and its resolved explicit
// permissions. Role/permission downgrades are not reflected until the token
// expires naturally; callers needing earlier invalidation re-issue through
// the switcher.
func (s *TokenService) Mint(u *User, c Context) (string, error) {
	if u == nil || c == nil {
		return "", errors.New("identity: user and context are required")
	}
	if c.Owner() != u.ID {
		return "", ErrAccessDenied
	}

	now := s.now().UTC()
	claims := Claims{
		UserID:      u.ID,
		Email:       u.Email,
		Name:        u.Name,
		ContextID:   c.ContextID(),
		ContextType: c.Kind(),
		Role:        c.ContextRole(),
		Permissions: c.Grants(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	switch c := c.(type) {
	case EnterpriseContext:
		claims.EnterpriseID = c.EnterpriseID
		claims.AgencySeatID = c.AgencySeatID
	case *EnterpriseContext:
		claims.EnterpriseID = c.EnterpriseID
		claims.AgencySeatID = c.AgencySeatID
	case PartnerContext:
		claims.PartnerEnterpriseID = c.PartnerEnterpriseID
		claims.ClientEnterpriseID = c.ClientEnterpriseID
		claims.EnterpriseID = c.ClientEnterpriseID
	case *PartnerContext:
		claims.PartnerEnterpriseID = c.PartnerEnterpriseID
		claims.ClientEnterpriseID = c.ClientEnterpriseID
		claims.EnterpriseID = c.ClientEnterpriseID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and structural claims. Tampered, malformed and
// expired tokens all fail with ErrInvalidToken: no distinction is made, to
// avoid oracle leakage.
func (s *TokenService) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := s.validate(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) validate(claims *Claims) error {
	if claims.Issuer != s.issuer {
		return errors.New("unexpected issuer")
	}
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.ContextID) == "" {
		return errors.New("identity claims missing")
	}
	switch claims.ContextType {
	case KindEnterprise, KindAgencySeat, KindPartner:
	default:
		return errors.New("unknown context type")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
