package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/allergyboard/internal/model"
	"github.com/hitoshi/allergyboard/internal/repository"
)

// --- インメモリDB ---

// memDB はusers、oauth_accounts、sessionsを保持するテスト用のインメモリストア。
// oauth_accountsの (provider, external_id) 一意性はPostgreSQLと同様に強制する。
type memDB struct {
	mu       sync.Mutex
	users    map[string]model.User
	links    map[string]model.OAuthAccountLink
	sessions map[string]model.Session
}

func newMemDB() *memDB {
	return &memDB{
		users:    make(map[string]model.User),
		links:    make(map[string]model.OAuthAccountLink),
		sessions: make(map[string]model.Session),
	}
}

func linkKey(provider, externalID string) string {
	return provider + "\x00" + externalID
}

func (db *memDB) session(id string) (model.Session, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.sessions[id]
	return s, ok
}

func (db *memDB) userCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users)
}

func (db *memDB) linkCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.links)
}

func (db *memDB) putUser(u model.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[u.ID] = u
}

func (db *memDB) putLink(l model.OAuthAccountLink) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.links[linkKey(l.Provider, l.ExternalID)] = l
}

type memUserRepo struct{ db *memDB }

func (r memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r memUserRepo) CreateWithLink(_ context.Context, user *model.User, link *model.OAuthAccountLink) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := linkKey(link.Provider, link.ExternalID)
	if _, exists := r.db.links[key]; exists {
		return fmt.Errorf("failed to insert oauth account: %w", repository.ErrDuplicateLink)
	}
	r.db.users[user.ID] = *user
	r.db.links[key] = *link
	return nil
}

func (r memUserRepo) DeleteByID(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(r.db.users, id)
	return nil
}

type memLinkRepo struct{ db *memDB }

func (r memLinkRepo) FindByProviderAndExternalID(_ context.Context, provider, externalID string) (*model.OAuthAccountLink, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.links[linkKey(provider, externalID)]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r memLinkRepo) UpdateTokens(_ context.Context, provider, externalID, accessToken, refreshToken string, updatedAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := linkKey(provider, externalID)
	l, ok := r.db.links[key]
	if !ok {
		return nil
	}
	l.AccessToken = accessToken
	if refreshToken != "" {
		l.RefreshToken = refreshToken
	}
	l.UpdatedAt = updatedAt
	r.db.links[key] = l
	return nil
}

type memSessionRepo struct{ db *memDB }

func (r memSessionRepo) Create(_ context.Context, session *model.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.sessions[session.ID] = *session
	return nil
}

func (r memSessionRepo) FindWithUser(_ context.Context, id string) (*model.Session, *model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[id]
	if !ok {
		return nil, nil, nil
	}
	u, ok := r.db.users[s.UserID]
	if !ok {
		return nil, nil, nil
	}
	return &s, &u, nil
}

func (r memSessionRepo) UpdateExpiry(_ context.Context, id string, expiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[id]
	if !ok {
		return nil
	}
	s.ExpiresAt = expiresAt
	r.db.sessions[id] = s
	return nil
}

func (r memSessionRepo) DeleteByID(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, id)
	return nil
}

func (r memSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, s := range r.db.sessions {
		if s.UserID == userID {
			delete(r.db.sessions, id)
		}
	}
	return nil
}

// --- モック定義 ---

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findWithUserFn   func(ctx context.Context, id string) (*model.Session, *model.User, error)
	updateExpiryFn   func(ctx context.Context, id string, expiresAt time.Time) error
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindWithUser(ctx context.Context, id string) (*model.Session, *model.User, error) {
	if m.findWithUserFn != nil {
		return m.findWithUserFn(ctx, id)
	}
	return nil, nil, nil
}

func (m *mockSessionRepo) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	if m.updateExpiryFn != nil {
		return m.updateExpiryFn(ctx, id, expiresAt)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

type mockProvider struct {
	name           string
	pkce           bool
	exchangeCodeFn func(ctx context.Context, code, verifier string) (*ProviderTokens, error)
	fetchProfileFn func(ctx context.Context, tokens *ProviderTokens) (*ExternalProfile, error)
}

func (m *mockProvider) Name() string   { return m.name }
func (m *mockProvider) UsesPKCE() bool { return m.pkce }

func (m *mockProvider) AuthCodeURL(state, verifier string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code, verifier string) (*ProviderTokens, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code, verifier)
	}
	return &ProviderTokens{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (m *mockProvider) FetchProfile(ctx context.Context, tokens *ProviderTokens) (*ExternalProfile, error) {
	if m.fetchProfileFn != nil {
		return m.fetchProfileFn(ctx, tokens)
	}
	return &ExternalProfile{ExternalID: "ext-1", Name: "Hanako", Email: "hanako@example.com"}, nil
}

// --- 時計 ---

// fakeClock はテストから進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- 計測 ---

type recordingMetrics struct {
	mu            sync.Mutex
	created       int
	renewed       int
	validations   map[string]int
	callbacks     map[string]int
	registrations map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		validations:   make(map[string]int),
		callbacks:     make(map[string]int),
		registrations: make(map[string]int),
	}
}

func (m *recordingMetrics) RecordSessionCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *recordingMetrics) RecordSessionValidation(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations[result]++
}

func (m *recordingMetrics) RecordSessionRenewed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewed++
}

func (m *recordingMetrics) RecordCallback(provider, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[provider+"/"+outcome]++
}

func (m *recordingMetrics) RecordRegistration(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations[result]++
}

// --- compile-time interface checks ---
var _ repository.UserRepository = memUserRepo{}
var _ repository.OAuthAccountRepository = memLinkRepo{}
var _ repository.SessionRepository = memSessionRepo{}
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ Provider = (*mockProvider)(nil)
var _ Metrics = (*recordingMetrics)(nil)
