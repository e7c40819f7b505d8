package token

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/quantpulse/identity-api/internal/models"
)

// Token lifetimes. Access and ID tokens are short-lived and refreshed;
// the refresh token spans the whole session window.
const (
	AccessTokenTTL  = time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// Token uses, carried in the token_use claim.
const (
	UseAccess  = "access"
	UseID      = "id"
	UseRefresh = "refresh"
)

// Claims are the verified contents of a bearer token.
type Claims struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	AuthType  models.AuthType
	TokenUse  string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// SessionTokens is the credential set returned on login and refresh. The
// refresh variant never includes a refresh token (no rotation).
type SessionTokens struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// Signer issues and validates HS256-signed JWTs carrying user, session,
// auth type, and token use.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSigner creates a token signer
func NewSigner(secret, issuer string) *Signer {
	return &Signer{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// WithClock overrides the signer's clock. Test hook.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Sign issues a token of the given use for a user/session pair.
func (s *Signer) Sign(use string, userID, sessionID uuid.UUID, authType models.AuthType, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	tok, err := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(userID.String()).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("session_id", sessionID.String()).
		Claim("auth_type", string(authType)).
		Claim("token_use", use).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), nil
}

// IssueSessionTokens returns a fresh id/access/refresh set for a session.
func (s *Signer) IssueSessionTokens(user *models.User, session *models.Session) (*SessionTokens, error) {
	accessToken, err := s.Sign(UseAccess, user.ID, session.ID, user.AuthType, AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	idToken, err := s.Sign(UseID, user.ID, session.ID, user.AuthType, AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.Sign(UseRefresh, user.ID, session.ID, user.AuthType, RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	return &SessionTokens{
		IDToken:      idToken,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
	}, nil
}

// Refresh issues a new id/access pair for a verified refresh claim. The
// refresh token itself is never rotated, so concurrent refreshes with the
// same token are idempotent.
func (s *Signer) Refresh(claims *Claims) (*SessionTokens, error) {
	accessToken, err := s.Sign(UseAccess, claims.UserID, claims.SessionID, claims.AuthType, AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	idToken, err := s.Sign(UseID, claims.UserID, claims.SessionID, claims.AuthType, AccessTokenTTL)
	if err != nil {
		return nil, err
	}

	return &SessionTokens{
		IDToken:     idToken,
		AccessToken: accessToken,
		ExpiresIn:   int(AccessTokenTTL.Seconds()),
	}, nil
}

// Parse verifies signature, expiry, and issuer, and requires the expected
// token use.
func (s *Signer) Parse(tokenString, expectedUse string) (*Claims, error) {
	tok, err := jwt.Parse([]byte(tokenString),
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
		jwt.WithClock(jwt.ClockFunc(s.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse/verify token: %w", err)
	}

	claims := &Claims{
		ExpiresAt: tok.Expiration(),
		IssuedAt:  tok.IssuedAt(),
	}

	userID, err := uuid.Parse(tok.Subject())
	if err != nil {
		return nil, fmt.Errorf("token subject is not a user id: %w", err)
	}
	claims.UserID = userID

	if sid, ok := tok.Get("session_id"); ok {
		if sidStr, ok := sid.(string); ok {
			sessionID, err := uuid.Parse(sidStr)
			if err != nil {
				return nil, fmt.Errorf("token session_id is invalid: %w", err)
			}
			claims.SessionID = sessionID
		}
	}
	if claims.SessionID == uuid.Nil {
		return nil, fmt.Errorf("token missing session_id claim")
	}

	if at, ok := tok.Get("auth_type"); ok {
		if atStr, ok := at.(string); ok {
			claims.AuthType = models.AuthType(atStr)
		}
	}

	if use, ok := tok.Get("token_use"); ok {
		if useStr, ok := use.(string); ok {
			claims.TokenUse = useStr
		}
	}
	if claims.TokenUse != expectedUse {
		return nil, fmt.Errorf("token use mismatch: expected %s, got %s", expectedUse, claims.TokenUse)
	}

	return claims, nil
}
