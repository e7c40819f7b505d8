package token

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/models"
)

func testUserSession() (*models.User, *models.Session) {
	userID := uuid.New()
	user := &models.User{ID: userID, AuthType: models.AuthTypeEmail}
	session := &models.Session{
		ID:             uuid.New(),
		UserID:         userID,
		StartedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(models.SessionTTL),
		LastActivityAt: time.Now(),
	}
	return user, session
}

func TestSigner_SignParse_RoundTrip(t *testing.T) {
	t.Parallel()

	signer := NewSigner("test-secret", "test-issuer")
	user, session := testUserSession()

	tokens, err := signer.IssueSessionTokens(user, session)
	if err != nil {
		t.Fatalf("IssueSessionTokens: %v", err)
	}

	tests := []struct {
		name        string
		tokenString string
		use         string
	}{
		{name: "access token", tokenString: tokens.AccessToken, use: UseAccess},
		{name: "id token", tokenString: tokens.IDToken, use: UseID},
		{name: "refresh token", tokenString: tokens.RefreshToken, use: UseRefresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Count(tt.tokenString, "."); got != 2 {
				t.Errorf("Expected 3 dot-separated segments, got %d dots", got)
			}

			claims, err := signer.Parse(tt.tokenString, tt.use)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if claims.UserID != user.ID {
				t.Errorf("Expected user id %s, got %s", user.ID, claims.UserID)
			}
			if claims.SessionID != session.ID {
				t.Errorf("Expected session id %s, got %s", session.ID, claims.SessionID)
			}
			if claims.AuthType != models.AuthTypeEmail {
				t.Errorf("Expected auth type email, got %s", claims.AuthType)
			}
			if claims.TokenUse != tt.use {
				t.Errorf("Expected token use %s, got %s", tt.use, claims.TokenUse)
			}
		})
	}
}

func TestSigner_Parse_Rejections(t *testing.T) {
	t.Parallel()

	signer := NewSigner("test-secret", "test-issuer")
	user, session := testUserSession()
	tokens, err := signer.IssueSessionTokens(user, session)
	if err != nil {
		t.Fatalf("IssueSessionTokens: %v", err)
	}

	tests := []struct {
		name        string
		tokenString string
		use         string
		parser      *Signer
	}{
		{
			name:        "wrong token use",
			tokenString: tokens.RefreshToken,
			use:         UseAccess,
			parser:      signer,
		},
		{
			name:        "wrong secret",
			tokenString: tokens.AccessToken,
			use:         UseAccess,
			parser:      NewSigner("other-secret", "test-issuer"),
		},
		{
			name:        "wrong issuer",
			tokenString: tokens.AccessToken,
			use:         UseAccess,
			parser:      NewSigner("test-secret", "other-issuer"),
		},
		{
			name:        "tampered payload",
			tokenString: tamper(tokens.AccessToken),
			use:         UseAccess,
			parser:      signer,
		},
		{
			name:        "garbage input",
			tokenString: "not-a-token",
			use:         UseAccess,
			parser:      signer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parser.Parse(tt.tokenString, tt.use); err == nil {
				t.Error("Expected parse error but got nil")
			}
		})
	}
}

func TestSigner_Parse_Expired(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-2 * time.Hour)
	signer := NewSigner("test-secret", "test-issuer").WithClock(func() time.Time { return past })
	user, session := testUserSession()

	tokens, err := signer.IssueSessionTokens(user, session)
	if err != nil {
		t.Fatalf("IssueSessionTokens: %v", err)
	}

	verifier := NewSigner("test-secret", "test-issuer")
	if _, err := verifier.Parse(tokens.AccessToken, UseAccess); err == nil {
		t.Error("Expected expired access token to be rejected")
	}

	// The refresh token has a 30-day window; issuing 2 hours in the past
	// must not expire it.
	if _, err := verifier.Parse(tokens.RefreshToken, UseRefresh); err != nil {
		t.Errorf("Expected refresh token to still verify: %v", err)
	}
}

func TestSigner_Refresh_NoRefreshToken(t *testing.T) {
	t.Parallel()

	signer := NewSigner("test-secret", "test-issuer")
	user, session := testUserSession()
	tokens, err := signer.IssueSessionTokens(user, session)
	if err != nil {
		t.Fatalf("IssueSessionTokens: %v", err)
	}

	claims, err := signer.Parse(tokens.RefreshToken, UseRefresh)
	if err != nil {
		t.Fatalf("Parse refresh: %v", err)
	}

	refreshed, err := signer.Refresh(claims)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if refreshed.RefreshToken != "" {
		t.Error("Refresh response must not contain a refresh token")
	}
	if refreshed.ExpiresIn != 3600 {
		t.Errorf("Expected expires_in 3600, got %d", refreshed.ExpiresIn)
	}
	if _, err := signer.Parse(refreshed.AccessToken, UseAccess); err != nil {
		t.Errorf("Refreshed access token did not verify: %v", err)
	}
	if _, err := signer.Parse(refreshed.IDToken, UseID); err != nil {
		t.Errorf("Refreshed id token did not verify: %v", err)
	}
}

// tamper flips a character in the payload segment
func tamper(tokenString string) string {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 || len(parts[1]) == 0 {
		return tokenString + "x"
	}
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	parts[1] = string(payload)
	return strings.Join(parts, ".")
}
