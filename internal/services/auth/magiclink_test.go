package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/token"
	"go.uber.org/zap"
)

type magicLinkTestEnv struct {
	service  *MagicLinkService
	links    *fakeMagicLinkStore
	users    *fakeUserStore
	sessions *fakeSessionStore
	records  *fakeMergeRecordStore
	data     *fakeDashboardStore
	mailer   *fakeMailer
}

func newMagicLinkTestEnv() *magicLinkTestEnv {
	env := &magicLinkTestEnv{
		links:    newFakeMagicLinkStore(),
		users:    newFakeUserStore(),
		sessions: newFakeSessionStore(),
		records:  newFakeMergeRecordStore(),
		data:     &fakeDashboardStore{counts: models.MergeCounts{Configurations: 1}},
		mailer:   &fakeMailer{},
	}
	merger := NewMergeCoordinator(env.records, env.data, testRetry(), zap.NewNop())
	env.service = NewMagicLinkService(
		env.links, env.users, env.sessions, merger,
		newTestSigner(), token.NewLinkSigner("link-test-secret"), env.mailer,
		testRetry(), zap.NewNop(), "https://api.example.com",
	)
	return env
}

// pendingLink returns the stored token for an email, for driving Verify.
func (env *magicLinkTestEnv) pendingLink(t *testing.T, email string) *models.MagicLinkToken {
	t.Helper()
	env.links.mu.Lock()
	defer env.links.mu.Unlock()
	for _, l := range env.links.links {
		if l.Email == email && l.Status == models.TokenStatusPending {
			return copyLink(l)
		}
	}
	t.Fatalf("no pending link for %s", email)
	return nil
}

func TestMagicLinkService_Request(t *testing.T) {
	t.Parallel()

	env := newMagicLinkTestEnv()

	receipt, err := env.service.Request(context.Background(), "User@Example.Com ", nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if receipt.Status != "email_sent" {
		t.Errorf("Expected status email_sent, got %s", receipt.Status)
	}
	if receipt.ExpiresInSeconds != 3600 {
		t.Errorf("Expected 3600 expiry seconds, got %d", receipt.ExpiresInSeconds)
	}

	if len(env.mailer.sent) != 1 {
		t.Fatalf("Expected 1 email, got %d", len(env.mailer.sent))
	}
	mail := env.mailer.sent[0]
	if mail.email != "user@example.com" {
		t.Errorf("Expected normalized recipient user@example.com, got %s", mail.email)
	}
	if !strings.HasPrefix(mail.linkURL, "https://api.example.com/auth/magic-link/verify?token=") {
		t.Errorf("Unexpected link URL %s", mail.linkURL)
	}
	if !strings.Contains(mail.linkURL, "&sig=") {
		t.Errorf("Expected link URL to carry a signature: %s", mail.linkURL)
	}

	link := env.pendingLink(t, "user@example.com")
	if link.Signature == "" {
		t.Error("Expected stored token to carry a signature")
	}
}

func TestMagicLinkService_Request_InvalidEmail(t *testing.T) {
	t.Parallel()

	env := newMagicLinkTestEnv()

	tests := []string{"", "not-an-email", "missing@domain", "@nobody"}
	for _, email := range tests {
		if _, err := env.service.Request(context.Background(), email, nil); err == nil {
			t.Errorf("Expected error for email %q", email)
		} else if KindOf(err) != KindValidation {
			t.Errorf("Expected kind %s for email %q, got %s", KindValidation, email, KindOf(err))
		}
	}
}

func TestMagicLinkService_Request_SupersedesPending(t *testing.T) {
	t.Parallel()

	env := newMagicLinkTestEnv()
	ctx := context.Background()

	if _, err := env.service.Request(ctx, "user@example.com", nil); err != nil {
		t.Fatalf("first Request() error = %v", err)
	}
	first := env.pendingLink(t, "user@example.com")

	if _, err := env.service.Request(ctx, "user@example.com", nil); err != nil {
		t.Fatalf("second Request() error = %v", err)
	}

	stored, err := env.links.GetByID(ctx, first.TokenID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != models.TokenStatusSuperseded {
		t.Errorf("Expected first token to be superseded, got %s", stored.Status)
	}

	// The superseded link is now rejected as invalidated.
	result, err := env.service.Verify(ctx, first.TokenID, first.Signature)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified {
		t.Error("Expected superseded link to be rejected")
	}
	if result.Rejection != KindTokenInvalidated {
		t.Errorf("Expected rejection %s, got %s", KindTokenInvalidated, result.Rejection)
	}
}

func TestMagicLinkService_Verify_NewUser(t *testing.T) {
	t.Parallel()

	env := newMagicLinkTestEnv()
	ctx := context.Background()

	if _, err := env.service.Request(ctx, "new@example.com", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	link := env.pendingLink(t, "new@example.com")

	result, err := env.service.Verify(ctx, link.TokenID, link.Signature)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Verified {
		t.Fatalf("Expected verification to succeed, rejection = %s", result.Rejection)
	}

	if result.User.AuthType != models.AuthTypeEmail {
		t.Errorf("Expected auth type email, got %s", result.User.AuthType)
	}
	if result.User.Email == nil || *result.User.Email != "new@example.com" {
		t.Errorf("Expected user email new@example.com, got %v", result.User.Email)
	}
	if !result.User.HasLinkedProvider("email") {
		t.Error("Expected email to be a linked provider")
	}
	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Error("Expected a full token set")
	}
	if result.MergedAnonymousData {
		t.Error("Expected no merge without an anonymous user")
	}
}

func TestMagicLinkService_Verify_ExistingUser(t *testing.T) {
	t.Parallel()

	env := newMagicLinkTestEnv()
	ctx := context.Background()

	email := "existing@example.com"
	existing := &models.User{
		ID:              uuid.New(),
		AuthType:        models.AuthTypeEmail,
		Email:           &email,
		LinkedProviders: []string{"email"},
	}
	if err := env.users.Create(ctx, existing); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	if _, err := env.service.Request(ctx, email, nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	link := env.pendingLink(t, email)

	result, err := env.service.Verify(ctx, link.TokenID, link.Signature)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Verified {
		t.Fatalf("Expected verification to succeed, rejection = %s", result.Rejection)
	}
	if result.User.ID != existing.ID {
		t.Error("Expected the existing user to be signed in, not a new one")
	}
}

func TestMagicLinkService_Verify_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  func(t *testing.T, env *magicLinkTestEnv) (*VerifyResult, error)
		want ErrorKind
	}{
		{
			name: "unknown token",
			run: func(t *testing.T, env *magicLinkTestEnv) (*VerifyResult, error) {
				return env.service.Verify(context.Background(), uuid.New(), "any")
			},
			want: KindTokenInvalidated,
		},
		{
			name: "tampered signature",
			run: func(t *testing.T, env *magicLinkTestEnv) (*VerifyResult, error) {
				if _, err := env.service.Request(context.Background(), "a@example.com", nil); err != nil {
					t.Fatalf("Request() error = %v", err)
				}
				link := env.pendingLink(t, "a@example.com")
				return env.service.Verify(context.Background(), link.TokenID, "bm90LXRoZS1zaWduYXR1cmU")
			},
			want: KindInvalidSignature,
		},
		{
			name: "already used",
			run: func(t *testing.T, env *magicLinkTestEnv) (*VerifyResult, error) {
				ctx := context.Background()
				if _, err := env.service.Request(ctx, "b@example.com", nil); err != nil {
					t.Fatalf("Request() error = %v", err)
				}
				link := env.pendingLink(t, "b@example.com")
				if first, err := env.service.Verify(ctx, link.TokenID, link.Signature); err != nil || !first.Verified {
					t.Fatalf("first Verify: verified=%v err=%v", first != nil && first.Verified, err)
				}
				return env.service.Verify(ctx, link.TokenID, link.Signature)
			},
			want: KindTokenUsed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newMagicLinkTestEnv()
			result, err := tt.run(t, env)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if result.Verified {
				t.Fatal("Expected rejection")
			}
			if result.Rejection != tt.want {
				t.Errorf("Expected rejection %s, got %s", tt.want, result.Rejection)
			}
		})
	}
}

func TestMagicLinkService_Verify_Expired(t *testing.T) {
	t.Parallel()

	env := newMagicLinkTestEnv()
	ctx := context.Background()

	if _, err := env.service.Request(ctx, "slow@example.com", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	link := env.pendingLink(t, "slow@example.com")

	env.service.now = func() time.Time { return link.ExpiresAt.Add(time.Minute) }

	result, err := env.service.Verify(ctx, link.TokenID, link.Signature)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified {
		t.Fatal("Expected expired link to be rejected")
	}
	if result.Rejection != KindTokenExpired {
		t.Errorf("Expected rejection %s, got %s", KindTokenExpired, result.Rejection)
	}

	stored, err := env.links.GetByID(ctx, link.TokenID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != models.TokenStatusExpired {
		t.Errorf("Expected stored status expired, got %s", stored.Status)
	}
}

func TestMagicLinkService_Verify_ExactlyOneWinner(t *testing.T) {
	t.Parallel()

	env := newMagicLinkTestEnv()
	ctx := context.Background()

	if _, err := env.service.Request(ctx, "raced@example.com", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	link := env.pendingLink(t, "raced@example.com")

	const n = 10
	results := make([]*VerifyResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.service.Verify(ctx, link.TokenID, link.Signature)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Verify[%d] error = %v", i, errs[i])
		}
		if results[i].Verified {
			winners++
			continue
		}
		if results[i].Rejection != KindTokenUsed {
			t.Errorf("Loser[%d] rejection = %s, want %s", i, results[i].Rejection, KindTokenUsed)
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", winners)
	}
}

func TestMagicLinkService_Verify_MergesAnonymousData(t *testing.T) {
	t.Parallel()

	env := newMagicLinkTestEnv()
	ctx := context.Background()

	anonID := uuid.New()
	if _, err := env.service.Request(ctx, "merge@example.com", &anonID); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	link := env.pendingLink(t, "merge@example.com")

	result, err := env.service.Verify(ctx, link.TokenID, link.Signature)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Verified {
		t.Fatalf("Expected verification to succeed, rejection = %s", result.Rejection)
	}
	if !result.MergedAnonymousData {
		t.Error("Expected anonymous data to be merged")
	}

	record, err := env.records.Get(ctx, anonID, result.User.ID)
	if err != nil {
		t.Fatalf("Expected merge record: %v", err)
	}
	if record.ItemsMerged.Configurations != 1 {
		t.Errorf("Expected 1 configuration merged, got %d", record.ItemsMerged.Configurations)
	}
}

// racedUserStore forces the caller's first email lookup to miss, simulating
// a registration that loses to a concurrent create of the same email.
type racedUserStore struct {
	*fakeUserStore
	mu     sync.Mutex
	missed bool
}

func (s *racedUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	if !s.missed {
		s.missed = true
		s.mu.Unlock()
		return nil, fmt.Errorf("user not found: %w", sql.ErrNoRows)
	}
	s.mu.Unlock()
	return s.fakeUserStore.GetByEmail(ctx, email)
}

func TestMagicLinkService_Verify_RegistrationRaceLoserGetsWinner(t *testing.T) {
	t.Parallel()

	env := newMagicLinkTestEnv()
	ctx := context.Background()

	email := "winner@example.com"
	winner := &models.User{
		ID:              uuid.New(),
		AuthType:        models.AuthTypeEmail,
		Email:           &email,
		LinkedProviders: []string{"email"},
	}
	if err := env.users.Create(ctx, winner); err != nil {
		t.Fatalf("seed winner: %v", err)
	}

	// Swap in a store whose first lookup misses; the subsequent create hits
	// the uniqueness constraint and the loser re-reads the winner.
	env.service.users = &racedUserStore{fakeUserStore: env.users}

	if _, err := env.service.Request(ctx, email, nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	link := env.pendingLink(t, email)

	result, err := env.service.Verify(ctx, link.TokenID, link.Signature)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Verified {
		t.Fatalf("Expected verification to succeed, rejection = %s", result.Rejection)
	}
	if result.User.ID != winner.ID {
		t.Error("Expected the race loser to be signed in as the winner's user")
	}
}
