package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/token"
	"github.com/quantpulse/identity-api/internal/validation"
	"go.uber.org/zap"
)

// MagicLinkService issues, invalidates, and verifies single-use emailed
// authentication tokens.
type MagicLinkService struct {
	links      MagicLinkStore
	users      UserStore
	sessions   SessionStore
	merger     *MergeCoordinator
	signer     *token.Signer
	linkSigner *token.LinkSigner
	mailer     Mailer
	retry      database.RetryPolicy
	log        *zap.Logger
	baseURL    string
	now        func() time.Time
}

// NewMagicLinkService creates a magic-link service
func NewMagicLinkService(
	links MagicLinkStore,
	users UserStore,
	sessions SessionStore,
	merger *MergeCoordinator,
	signer *token.Signer,
	linkSigner *token.LinkSigner,
	mailer Mailer,
	retry database.RetryPolicy,
	log *zap.Logger,
	baseURL string,
) *MagicLinkService {
	return &MagicLinkService{
		links:      links,
		users:      users,
		sessions:   sessions,
		merger:     merger,
		signer:     signer,
		linkSigner: linkSigner,
		mailer:     mailer,
		retry:      retry,
		log:        log,
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}
}

// RequestReceipt is the uniform response to a magic-link request. The shape
// never varies with whether the email is registered, so the endpoint cannot
// be used for account enumeration.
type RequestReceipt struct {
	Status           string `json:"status"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// Request validates the email, issues a pending token (superseding any
// still-pending token for the same email in the same store transaction),
// and dispatches the link. Always responds email_sent.
func (s *MagicLinkService) Request(ctx context.Context, email string, anonymousUserID *uuid.UUID) (*RequestReceipt, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validation.ValidateEmail(email); err != nil {
		return nil, E(KindValidation, "email is invalid")
	}

	now := s.now().UTC()
	link := &models.MagicLinkToken{
		TokenID:         uuid.New(),
		Email:           email,
		Status:          models.TokenStatusPending,
		AnonymousUserID: anonymousUserID,
		IssuedAt:        now,
		ExpiresAt:       now.Add(models.MagicLinkTTL),
	}
	link.Signature = s.linkSigner.Sign(link.TokenID, link.Email, link.ExpiresAt)

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.links.Issue(ctx, link)
	})
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to issue magic link", err)
	}

	linkURL := fmt.Sprintf("%s/auth/magic-link/verify?token=%s&sig=%s",
		s.baseURL, link.TokenID, url.QueryEscape(link.Signature))

	if err := s.mailer.SendMagicLink(ctx, email, linkURL, link.ExpiresAt); err != nil {
		return nil, Wrap(KindInternal, "failed to dispatch magic link email", err)
	}

	s.log.Info("magic_link_issued",
		zap.String("token_id", link.TokenID.String()),
		zap.Bool("has_anonymous_user", anonymousUserID != nil),
	)

	return &RequestReceipt{
		Status:           "email_sent",
		ExpiresInSeconds: int(models.MagicLinkTTL.Seconds()),
	}, nil
}

// VerifyResult distinguishes the single verification winner from the
// documented rejections, so callers cannot conflate a lost race with an
// infrastructure failure.
type VerifyResult struct {
	Verified  bool
	Rejection ErrorKind // set only when !Verified

	User                *models.User
	Session             *models.Session
	Tokens              *token.SessionTokens
	MergedAnonymousData bool
}

func rejected(kind ErrorKind) *VerifyResult {
	return &VerifyResult{Rejection: kind}
}

// Verify recomputes the detached signature, then performs the conditional
// pending->used transition. Exactly one of N concurrent verifiers of the
// same token observes success; the rest get token_used.
func (s *MagicLinkService) Verify(ctx context.Context, tokenID uuid.UUID, sig string) (*VerifyResult, error) {
	link, err := s.links.GetByID(ctx, tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return rejected(KindTokenInvalidated), nil
	}
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to load magic link", err)
	}

	if !s.linkSigner.Verify(link.TokenID, link.Email, link.ExpiresAt, sig) {
		return rejected(KindInvalidSignature), nil
	}

	now := s.now().UTC()
	switch link.Status {
	case models.TokenStatusPending:
		// fall through to expiry check and conditional consume
	case models.TokenStatusUsed:
		return rejected(KindTokenUsed), nil
	default:
		return rejected(KindTokenInvalidated), nil
	}

	if link.Expired(now) {
		if err := s.links.MarkExpired(ctx, tokenID, now); err != nil {
			s.log.Warn("failed_to_mark_magic_link_expired",
				zap.String("token_id", tokenID.String()),
				zap.Error(err),
			)
		}
		return rejected(KindTokenExpired), nil
	}

	won, err := s.links.Consume(ctx, tokenID)
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to consume magic link", err)
	}
	if !won {
		return rejected(KindTokenUsed), nil
	}

	user, err := s.resolveOrCreateUser(ctx, link.Email)
	if err != nil {
		return nil, err
	}

	merged := false
	if link.AnonymousUserID != nil && *link.AnonymousUserID != user.ID {
		if _, err := s.merger.Merge(ctx, *link.AnonymousUserID, user.ID); err != nil {
			return nil, err
		}
		merged = true
	}

	session := newSession(user.ID, deviceTokenFrom(nil), now)
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.sessions.Create(ctx, session)
	})
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to create session", err)
	}

	tokens, err := s.signer.IssueSessionTokens(user, session)
	if err != nil {
		return nil, Wrap(KindSecret, "failed to sign session tokens", err)
	}

	s.log.Info("magic_link_verified",
		zap.String("token_id", tokenID.String()),
		zap.String("user_id", user.ID.String()),
		zap.Bool("merged_anonymous_data", merged),
	)

	return &VerifyResult{
		Verified:            true,
		User:                user,
		Session:             session,
		Tokens:              tokens,
		MergedAnonymousData: merged,
	}, nil
}

// resolveOrCreateUser returns the user holding this email, creating an
// email-auth user when none exists. Concurrent registrations of the same
// email race on the store's uniqueness constraint; losers transparently
// re-read and return the winner.
func (s *MagicLinkService) resolveOrCreateUser(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, Wrap(KindDatabase, "failed to look up user", err)
	}

	user = &models.User{
		ID:              uuid.New(),
		AuthType:        models.AuthTypeEmail,
		Email:           &email,
		LinkedProviders: []string{"email"},
	}
	err = s.users.Create(ctx, user)
	if err == nil {
		return user, nil
	}
	if database.IsUniqueViolation(err) {
		winner, readErr := s.users.GetByEmail(ctx, email)
		if readErr != nil {
			return nil, Wrap(KindDatabase, "failed to resolve registration race", readErr)
		}
		return winner, nil
	}
	return nil, Wrap(KindDatabase, "failed to create user", err)
}
