package auth

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/models"
)

// In-memory store fakes with the same conditional-write semantics as the
// Postgres repositories: missing rows wrap sql.ErrNoRows, unique violations
// surface as pq errors, and Consume/Touch are compare-and-set.

func testRetry() database.RetryPolicy {
	return database.RetryPolicy{MaxAttempts: 1}
}

func uniqueViolation() error {
	return &pq.Error{Code: "23505"}
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User

	createErr error
	getErr    error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]*models.User)}
}

func copyUser(u *models.User) *models.User {
	cp := *u
	cp.LinkedProviders = append([]string(nil), u.LinkedProviders...)
	return &cp
}

func (s *fakeUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if user.Email != nil && user.AuthType != models.AuthTypeAnonymous {
		for _, existing := range s.users {
			if existing.Email != nil && *existing.Email == *user.Email && existing.AuthType != models.AuthTypeAnonymous {
				return uniqueViolation()
			}
		}
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = copyUser(user)
	return nil
}

func (s *fakeUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", sql.ErrNoRows)
	}
	return copyUser(u), nil
}

func (s *fakeUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	for _, u := range s.users {
		if u.Email != nil && *u.Email == email && u.AuthType != models.AuthTypeAnonymous {
			return copyUser(u), nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", sql.ErrNoRows)
}

func (s *fakeUserStore) GetLatestAnonymousByFingerprint(ctx context.Context, fingerprint string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*models.User
	for _, u := range s.users {
		if u.AuthType == models.AuthTypeAnonymous && u.DeviceFingerprint != nil && *u.DeviceFingerprint == fingerprint {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("user not found: %w", sql.ErrNoRows)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return copyUser(candidates[0]), nil
}

func (s *fakeUserStore) AddLinkedProvider(ctx context.Context, id uuid.UUID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user not found: %w", sql.ErrNoRows)
	}
	for _, p := range u.LinkedProviders {
		if p == provider {
			return nil
		}
	}
	u.LinkedProviders = append(u.LinkedProviders, provider)
	return nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session

	createErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*models.Session)}
}

func copySession(s *models.Session) *models.Session {
	cp := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

func (s *fakeSessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.sessions[session.ID] = copySession(session)
	return nil
}

func (s *fakeSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sql.ErrNoRows)
	}
	return copySession(sess), nil
}

func (s *fakeSessionStore) Touch(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.RevokedAt != nil || !now.Before(sess.ExpiresAt) {
		return fmt.Errorf("session not active: %w", sql.ErrNoRows)
	}
	sess.LastActivityAt = now
	sess.ExpiresAt = now.Add(models.SessionTTL)
	return nil
}

func (s *fakeSessionStore) Revoke(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.RevokedAt != nil {
		return fmt.Errorf("session not active: %w", sql.ErrNoRows)
	}
	t := now
	sess.RevokedAt = &t
	return nil
}

func (s *fakeSessionStore) RevokeAllForUsers(ctx context.Context, userIDs []uuid.UUID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		targets[id] = true
	}
	revoked := 0
	for _, sess := range s.sessions {
		if targets[sess.UserID] && sess.RevokedAt == nil {
			t := now
			sess.RevokedAt = &t
			revoked++
		}
	}
	return revoked, nil
}

type fakeMagicLinkStore struct {
	mu    sync.Mutex
	links map[uuid.UUID]*models.MagicLinkToken

	consumeErr error
}

func newFakeMagicLinkStore() *fakeMagicLinkStore {
	return &fakeMagicLinkStore{links: make(map[uuid.UUID]*models.MagicLinkToken)}
}

func copyLink(l *models.MagicLinkToken) *models.MagicLinkToken {
	cp := *l
	if l.AnonymousUserID != nil {
		id := *l.AnonymousUserID
		cp.AnonymousUserID = &id
	}
	return &cp
}

func (s *fakeMagicLinkStore) Issue(ctx context.Context, token *models.MagicLinkToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.links {
		if existing.Email == token.Email && existing.Status == models.TokenStatusPending {
			existing.Status = models.TokenStatusSuperseded
		}
	}
	s.links[token.TokenID] = copyLink(token)
	return nil
}

func (s *fakeMagicLinkStore) GetByID(ctx context.Context, tokenID uuid.UUID) (*models.MagicLinkToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[tokenID]
	if !ok {
		return nil, fmt.Errorf("magic link token not found: %w", sql.ErrNoRows)
	}
	return copyLink(l), nil
}

// Consume is the compare-and-set pending -> used transition. Exactly one
// caller per token observes true.
func (s *fakeMagicLinkStore) Consume(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumeErr != nil {
		return false, s.consumeErr
	}
	l, ok := s.links[tokenID]
	if !ok || l.Status != models.TokenStatusPending {
		return false, nil
	}
	l.Status = models.TokenStatusUsed
	return true, nil
}

func (s *fakeMagicLinkStore) MarkExpired(ctx context.Context, tokenID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[tokenID]
	if !ok {
		return fmt.Errorf("magic link token not found: %w", sql.ErrNoRows)
	}
	if l.Status == models.TokenStatusPending {
		l.Status = models.TokenStatusExpired
	}
	return nil
}

type mergePair struct {
	anon, target uuid.UUID
}

type fakeMergeRecordStore struct {
	mu      sync.Mutex
	records map[mergePair]*models.MergeRecord

	getErr error
}

func newFakeMergeRecordStore() *fakeMergeRecordStore {
	return &fakeMergeRecordStore{records: make(map[mergePair]*models.MergeRecord)}
}

func (s *fakeMergeRecordStore) Get(ctx context.Context, anonymousUserID, targetUserID uuid.UUID) (*models.MergeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	r, ok := s.records[mergePair{anonymousUserID, targetUserID}]
	if !ok {
		return nil, fmt.Errorf("merge record not found: %w", sql.ErrNoRows)
	}
	cp := *r
	return &cp, nil
}

func (s *fakeMergeRecordStore) GetLatestForTarget(ctx context.Context, targetUserID uuid.UUID) (*models.MergeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.MergeRecord
	for _, r := range s.records {
		if r.TargetUserID != targetUserID {
			continue
		}
		if latest == nil || r.MergedAt.After(latest.MergedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("merge record not found: %w", sql.ErrNoRows)
	}
	cp := *latest
	return &cp, nil
}

func (s *fakeMergeRecordStore) CreateIfAbsent(ctx context.Context, record *models.MergeRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mergePair{record.AnonymousUserID, record.TargetUserID}
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	cp := *record
	s.records[key] = &cp
	return true, nil
}

type fakeDashboardStore struct {
	mu     sync.Mutex
	counts models.MergeCounts

	copyCalls int
	copyErr   error
}

func (s *fakeDashboardStore) CopyConfigurations(ctx context.Context, fromUserID, toUserID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copyCalls++
	if s.copyErr != nil {
		return 0, s.copyErr
	}
	return s.counts.Configurations, nil
}

func (s *fakeDashboardStore) CopyAlertRules(ctx context.Context, fromUserID, toUserID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.copyErr != nil {
		return 0, s.copyErr
	}
	return s.counts.AlertRules, nil
}

func (s *fakeDashboardStore) CopyPreferences(ctx context.Context, fromUserID, toUserID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.copyErr != nil {
		return 0, s.copyErr
	}
	return s.counts.Preferences, nil
}

type sentMail struct {
	email   string
	linkURL string
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []sentMail
	sendErr error
}

func (m *fakeMailer) SendMagicLink(ctx context.Context, email, linkURL string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMail{email: email, linkURL: linkURL})
	return nil
}
