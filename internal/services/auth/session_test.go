package auth

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/token"
	"go.uber.org/zap"
)

type sessionTestEnv struct {
	manager  *SessionLifecycleManager
	users    *fakeUserStore
	sessions *fakeSessionStore
	signer   *token.Signer
}

func newSessionTestEnv() *sessionTestEnv {
	env := &sessionTestEnv{
		users:    newFakeUserStore(),
		sessions: newFakeSessionStore(),
		signer:   newTestSigner(),
	}
	env.manager = NewSessionLifecycleManager(env.users, env.sessions, env.signer, testRetry(), zap.NewNop())
	return env
}

// seedSession writes a user and an active session and returns the signed
// token pair for them.
func (env *sessionTestEnv) seedSession(t *testing.T) (*models.User, *models.Session, *token.SessionTokens) {
	t.Helper()
	ctx := context.Background()

	user := &models.User{ID: uuid.New(), AuthType: models.AuthTypeAnonymous}
	if err := env.users.Create(ctx, user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	session := newSession(user.ID, deviceTokenFrom(nil), time.Now().UTC())
	if err := env.sessions.Create(ctx, session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	tokens, err := env.signer.IssueSessionTokens(user, session)
	if err != nil {
		t.Fatalf("sign tokens: %v", err)
	}
	return user, session, tokens
}

func TestSessionLifecycleManager_Authenticate(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()
	user, session, tokens := env.seedSession(t)

	principal, err := env.manager.Authenticate(context.Background(), tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if principal.User.ID != user.ID {
		t.Error("Expected the seeded user")
	}
	if principal.Session.ID != session.ID {
		t.Error("Expected the seeded session")
	}
	if principal.Claims == nil || principal.Claims.SessionID != session.ID {
		t.Error("Expected claims bound to the session")
	}
}

func TestSessionLifecycleManager_Authenticate_SlidesWindow(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()
	_, session, tokens := env.seedSession(t)

	// 10 days into the window; authenticating should push expiry out to a
	// full 30 days from now, not from session start.
	later := time.Now().UTC().Add(10 * 24 * time.Hour)
	env.manager.now = func() time.Time { return later }

	principal, err := env.manager.Authenticate(context.Background(), tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	want := later.Add(models.SessionTTL)
	if !principal.Session.ExpiresAt.Equal(want) {
		t.Errorf("Expected expiry %v, got %v", want, principal.Session.ExpiresAt)
	}

	stored, err := env.sessions.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !stored.ExpiresAt.Equal(want) {
		t.Errorf("Expected persisted expiry %v, got %v", want, stored.ExpiresAt)
	}
	if !stored.LastActivityAt.Equal(later) {
		t.Errorf("Expected persisted activity %v, got %v", later, stored.LastActivityAt)
	}
}

func TestSessionLifecycleManager_Authenticate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token func(t *testing.T, env *sessionTestEnv) string
		want  ErrorKind
	}{
		{
			name: "garbage token",
			token: func(t *testing.T, env *sessionTestEnv) string {
				return "not-a-jwt"
			},
			want: KindUnauthorized,
		},
		{
			name: "refresh token presented as access token",
			token: func(t *testing.T, env *sessionTestEnv) string {
				_, _, tokens := env.seedSession(t)
				return tokens.RefreshToken
			},
			want: KindUnauthorized,
		},
		{
			name: "session revoked",
			token: func(t *testing.T, env *sessionTestEnv) string {
				_, session, tokens := env.seedSession(t)
				if err := env.sessions.Revoke(context.Background(), session.ID, time.Now().UTC()); err != nil {
					t.Fatalf("Revoke() error = %v", err)
				}
				return tokens.AccessToken
			},
			want: KindTokenRevoked,
		},
		{
			name: "session expired",
			token: func(t *testing.T, env *sessionTestEnv) string {
				_, _, tokens := env.seedSession(t)
				env.manager.now = func() time.Time {
					return time.Now().UTC().Add(models.SessionTTL + time.Hour)
				}
				return tokens.AccessToken
			},
			want: KindTokenExpired,
		},
		{
			name: "unknown session",
			token: func(t *testing.T, env *sessionTestEnv) string {
				user := &models.User{ID: uuid.New(), AuthType: models.AuthTypeAnonymous}
				orphan := newSession(user.ID, deviceTokenFrom(nil), time.Now().UTC())
				tokens, err := env.signer.IssueSessionTokens(user, orphan)
				if err != nil {
					t.Fatalf("sign tokens: %v", err)
				}
				return tokens.AccessToken
			},
			want: KindUnauthorized,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newSessionTestEnv()
			accessToken := tt.token(t, env)

			_, err := env.manager.Authenticate(context.Background(), accessToken)
			if err == nil {
				t.Fatal("Expected error")
			}
			if KindOf(err) != tt.want {
				t.Errorf("Expected kind %s, got %s", tt.want, KindOf(err))
			}
		})
	}
}

// touchRaceStore serves an active session on read but fails the extend
// write, as happens when a revoke lands between the two.
type touchRaceStore struct {
	*fakeSessionStore
}

func (s *touchRaceStore) Touch(ctx context.Context, id uuid.UUID, now time.Time) error {
	return fmt.Errorf("session not active: %w", sql.ErrNoRows)
}

func TestSessionLifecycleManager_Authenticate_TouchRace(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()
	_, _, tokens := env.seedSession(t)
	env.manager.sessions = &touchRaceStore{fakeSessionStore: env.sessions}

	_, err := env.manager.Authenticate(context.Background(), tokens.AccessToken)
	if err == nil {
		t.Fatal("Expected error")
	}
	if KindOf(err) != KindUnauthorized {
		t.Errorf("Expected kind %s, got %s", KindUnauthorized, KindOf(err))
	}
}

func TestSessionLifecycleManager_Refresh(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()
	_, _, tokens := env.seedSession(t)

	refreshed, err := env.manager.Refresh(context.Background(), tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.AccessToken == "" || refreshed.IDToken == "" {
		t.Error("Expected fresh access and id tokens")
	}
	if refreshed.RefreshToken != "" {
		t.Error("Refresh must never rotate the refresh token")
	}
	if refreshed.ExpiresIn != int(token.AccessTokenTTL.Seconds()) {
		t.Errorf("Expected expires_in %d, got %d", int(token.AccessTokenTTL.Seconds()), refreshed.ExpiresIn)
	}
}

func TestSessionLifecycleManager_Refresh_ConcurrentSameToken(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()
	_, _, tokens := env.seedSession(t)

	const n = 5
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.manager.Refresh(context.Background(), tokens.RefreshToken)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Refresh[%d] error = %v", i, err)
		}
	}
}

func TestSessionLifecycleManager_Refresh_Rejections(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()
	_, session, tokens := env.seedSession(t)

	// Access token presented as refresh token.
	if _, err := env.manager.Refresh(context.Background(), tokens.AccessToken); KindOf(err) != KindInvalidRefreshToken {
		t.Errorf("Expected kind %s, got %v", KindInvalidRefreshToken, err)
	}

	// Revoked session behind a syntactically valid refresh token.
	if err := env.sessions.Revoke(context.Background(), session.ID, time.Now().UTC()); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := env.manager.Refresh(context.Background(), tokens.RefreshToken); KindOf(err) != KindTokenRevoked {
		t.Errorf("Expected kind %s, got %v", KindTokenRevoked, err)
	}
}

func TestSessionLifecycleManager_SignOut(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()
	ctx := context.Background()
	user, session, _ := env.seedSession(t)

	other := newSession(user.ID, deviceTokenFrom(nil), time.Now().UTC())
	if err := env.sessions.Create(ctx, other); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := env.manager.SignOut(ctx, session.ID); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}

	revoked, err := env.sessions.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if revoked.RevokedAt == nil {
		t.Error("Expected the session to be revoked")
	}

	untouched, err := env.sessions.GetByID(ctx, other.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if untouched.RevokedAt != nil {
		t.Error("Sign-out must not touch the user's other sessions")
	}

	// Idempotent: repeating and signing out unknown sessions both succeed.
	if err := env.manager.SignOut(ctx, session.ID); err != nil {
		t.Errorf("repeat SignOut() error = %v", err)
	}
	if err := env.manager.SignOut(ctx, uuid.New()); err != nil {
		t.Errorf("unknown SignOut() error = %v", err)
	}
}

func TestSessionLifecycleManager_Extend(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()
	ctx := context.Background()
	_, session, _ := env.seedSession(t)

	later := time.Now().UTC().Add(24 * time.Hour)
	env.manager.now = func() time.Time { return later }

	extended, err := env.manager.Extend(ctx, session.ID)
	if err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	want := later.Add(models.SessionTTL)
	if !extended.ExpiresAt.Equal(want) {
		t.Errorf("Expected expiry %v, got %v", want, extended.ExpiresAt)
	}

	// A revoked session cannot be extended.
	if err := env.sessions.Revoke(ctx, session.ID, later); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := env.manager.Extend(ctx, session.ID); KindOf(err) != KindUnauthorized {
		t.Errorf("Expected kind %s, got %v", KindUnauthorized, err)
	}
}

func TestSessionLifecycleManager_BulkRevoke(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()
	ctx := context.Background()

	userA, _, _ := env.seedSession(t)
	extra := newSession(userA.ID, deviceTokenFrom(nil), time.Now().UTC())
	if err := env.sessions.Create(ctx, extra); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	userB, _, _ := env.seedSession(t)
	bystander, _, _ := env.seedSession(t)

	revoked, err := env.manager.BulkRevoke(ctx, []uuid.UUID{userA.ID, userB.ID})
	if err != nil {
		t.Fatalf("BulkRevoke() error = %v", err)
	}
	if revoked != 3 {
		t.Errorf("Expected 3 revoked sessions, got %d", revoked)
	}

	// Repeating finds nothing left to revoke.
	revoked, err = env.manager.BulkRevoke(ctx, []uuid.UUID{userA.ID, userB.ID})
	if err != nil {
		t.Fatalf("repeat BulkRevoke() error = %v", err)
	}
	if revoked != 0 {
		t.Errorf("Expected 0 revoked sessions on repeat, got %d", revoked)
	}

	for _, sess := range env.sessions.sessions {
		if sess.UserID == bystander.ID && sess.RevokedAt != nil {
			t.Error("BulkRevoke must not touch other users' sessions")
		}
	}
}

func TestSessionLifecycleManager_BulkRevoke_EmptyInput(t *testing.T) {
	t.Parallel()

	env := newSessionTestEnv()

	if _, err := env.manager.BulkRevoke(context.Background(), nil); KindOf(err) != KindValidation {
		t.Errorf("Expected kind %s, got %v", KindValidation, err)
	}
}
