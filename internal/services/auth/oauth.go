package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/services/oauth"
	"github.com/quantpulse/identity-api/internal/token"
	"github.com/quantpulse/identity-api/internal/validation"
	"go.uber.org/zap"
)

// IdentityExchanger exchanges a provider authorization code for a verified
// identity. Implemented by the oauth registry; faked in tests.
type IdentityExchanger interface {
	Exchange(ctx context.Context, provider, code string) (*oauth.Identity, error)
}

// OAuthCallbackService resolves provider callbacks into users and sessions.
type OAuthCallbackService struct {
	exchanger IdentityExchanger
	users     UserStore
	sessions  SessionStore
	merger    *MergeCoordinator
	signer    *token.Signer
	retry     database.RetryPolicy
	log       *zap.Logger
	now       func() time.Time
}

// NewOAuthCallbackService creates an OAuth callback service
func NewOAuthCallbackService(
	exchanger IdentityExchanger,
	users UserStore,
	sessions SessionStore,
	merger *MergeCoordinator,
	signer *token.Signer,
	retry database.RetryPolicy,
	log *zap.Logger,
) *OAuthCallbackService {
	return &OAuthCallbackService{
		exchanger: exchanger,
		users:     users,
		sessions:  sessions,
		merger:    merger,
		signer:    signer,
		retry:     retry,
		log:       log,
		now:       time.Now,
	}
}

const (
	CallbackAuthenticated = "authenticated"
	CallbackConflict      = "conflict"
)

// CallbackResult is either an authenticated login or a conflict that
// requires an explicit link-accounts confirmation.
type CallbackResult struct {
	Status           string
	ExistingProvider string // set only on conflict

	User                *models.User
	Session             *models.Session
	Tokens              *token.SessionTokens
	IsNewUser           bool
	MergedAnonymousData bool
}

// Callback exchanges the authorization code, then resolves the verified
// email to a user. An email already held under a different auth method is
// a conflict, never an automatic link: a spoofed provider email claim must
// not take over an existing account.
func (s *OAuthCallbackService) Callback(ctx context.Context, provider, code string, anonymousUserID *uuid.UUID) (*CallbackResult, error) {
	if err := validation.ValidateOAuthProvider(provider); err != nil {
		return nil, E(KindInvalidProvider, err.Error())
	}
	if code == "" {
		return nil, E(KindValidation, "code is required")
	}

	var identity *oauth.Identity
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		identity, err = s.exchanger.Exchange(ctx, provider, code)
		return err
	})
	if err != nil {
		return nil, Wrap(KindInvalidCode, "failed to exchange authorization code", err)
	}
	if !identity.EmailVerified {
		return nil, E(KindForbidden, "provider email is not verified")
	}

	user, isNew, err := s.resolveIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Existing account under a different method.
		existing, lookupErr := s.users.GetByEmail(ctx, identity.Email)
		if lookupErr != nil {
			return nil, Wrap(KindDatabase, "failed to load conflicting user", lookupErr)
		}
		s.log.Info("oauth_callback_conflict",
			zap.String("provider", provider),
			zap.String("existing_provider", string(existing.AuthType)),
		)
		return &CallbackResult{
			Status:           CallbackConflict,
			ExistingProvider: string(existing.AuthType),
		}, nil
	}

	merged := false
	if anonymousUserID != nil && *anonymousUserID != user.ID {
		if _, err := s.merger.Merge(ctx, *anonymousUserID, user.ID); err != nil {
			return nil, err
		}
		merged = true
	}

	now := s.now().UTC()
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

	s.log.Info("oauth_callback_authenticated",
		zap.String("provider", provider),
		zap.String("user_id", user.ID.String()),
		zap.Bool("is_new_user", isNew),
		zap.Bool("merged_anonymous_data", merged),
	)

	return &CallbackResult{
		Status:              CallbackAuthenticated,
		User:                user,
		Session:             session,
		Tokens:              tokens,
		IsNewUser:           isNew,
		MergedAnonymousData: merged,
	}, nil
}

// resolveIdentity returns (user, isNew, err). A nil user with a nil error
// signals the conflict path.
func (s *OAuthCallbackService) resolveIdentity(ctx context.Context, identity *oauth.Identity) (*models.User, bool, error) {
	existing, err := s.users.GetByEmail(ctx, identity.Email)
	if err == nil {
		if string(existing.AuthType) == identity.Provider || existing.HasLinkedProvider(identity.Provider) {
			return existing, false, nil
		}
		return nil, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, Wrap(KindDatabase, "failed to look up user", err)
	}

	email := identity.Email
	user := &models.User{
		ID:              uuid.New(),
		AuthType:        models.AuthType(identity.Provider),
		Email:           &email,
		LinkedProviders: []string{identity.Provider},
	}
	err = s.users.Create(ctx, user)
	if err == nil {
		return user, true, nil
	}
	if database.IsUniqueViolation(err) {
		// Lost a registration race; re-inspect the winner.
		winner, readErr := s.users.GetByEmail(ctx, email)
		if readErr != nil {
			return nil, false, Wrap(KindDatabase, "failed to resolve registration race", readErr)
		}
		if string(winner.AuthType) == identity.Provider || winner.HasLinkedProvider(identity.Provider) {
			return winner, false, nil
		}
		return nil, false, nil
	}
	return nil, false, Wrap(KindDatabase, "failed to create user", err)
}

// EmailStatus reports how an email is registered, for the conflict
// resolution flow.
type EmailStatus struct {
	Exists          bool     `json:"exists"`
	AuthType        string   `json:"auth_type,omitempty"`
	LinkedProviders []string `json:"linked_providers,omitempty"`
}

// CheckEmail reports whether an email is registered and under which method.
func (s *OAuthCallbackService) CheckEmail(ctx context.Context, email string) (*EmailStatus, error) {
	if err := validation.ValidateEmail(email); err != nil {
		return nil, E(KindValidation, "email is invalid")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return &EmailStatus{Exists: false}, nil
	}
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to look up user", err)
	}
	return &EmailStatus{
		Exists:          true,
		AuthType:        string(user.AuthType),
		LinkedProviders: user.LinkedProviders,
	}, nil
}

// LinkAccounts attaches a provider to an existing account. Requires the
// explicit confirmation flag; this is the only path that merges identities
// across auth methods.
func (s *OAuthCallbackService) LinkAccounts(ctx context.Context, email, provider string, confirmation bool) (*models.User, error) {
	if !confirmation {
		return nil, E(KindValidation, "confirmation is required to link accounts")
	}
	if err := validation.ValidateOAuthProvider(provider); err != nil {
		return nil, E(KindInvalidProvider, err.Error())
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, E(KindValidation, "email is invalid")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, E(KindNotFound, "no account exists for this email")
	}
	if err != nil {
		return nil, Wrap(KindDatabase, "failed to look up user", err)
	}

	if !user.HasLinkedProvider(provider) {
		if err := s.users.AddLinkedProvider(ctx, user.ID, provider); err != nil {
			return nil, Wrap(KindDatabase, "failed to link provider", err)
		}
		user.LinkedProviders = append(user.LinkedProviders, provider)
	}

	s.log.Info("accounts_linked",
		zap.String("user_id", user.ID.String()),
		zap.String("provider", provider),
	)
	return user, nil
}
