package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/allergyboard/internal/model"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestSessionStore(t *testing.T) (*SessionStore, *memDB, *fakeClock, *recordingMetrics) {
	t.Helper()
	db := newMemDB()
	db.putUser(model.User{ID: "user-1", Name: "Hanako", Role: model.RoleCaretaker})
	clock := newFakeClock(baseTime)
	metrics := newRecordingMetrics()
	store := NewSessionStore(memSessionRepo{db: db}, SessionStoreConfig{
		TTL:         30 * 24 * time.Hour,
		RenewWindow: 15 * 24 * time.Hour,
		Now:         clock.Now,
	}, metrics)
	return store, db, clock, metrics
}

func TestSessionStore_Create_PersistsDigestAndExpiry(t *testing.T) {
	store, db, _, metrics := newTestSessionStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "raw-token", "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if session.ID != SessionID("raw-token") {
		t.Errorf("session.ID = %q, want digest of token", session.ID)
	}
	if want := baseTime.Add(30 * 24 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}
	if _, ok := db.session("raw-token"); ok {
		t.Error("raw token must never be used as a storage key")
	}
	if _, ok := db.session(SessionID("raw-token")); !ok {
		t.Error("session should be stored under the digest")
	}
	if metrics.created != 1 {
		t.Errorf("created metric = %d, want 1", metrics.created)
	}
}

func TestSessionStore_CreateThenValidate_NoRenewal(t *testing.T) {
	store, _, _, _ := newTestSessionStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "tok", "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	result, err := store.Validate(ctx, "tok")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid() {
		t.Fatalf("Status = %v, want valid", result.Status)
	}
	if result.User.ID != "user-1" {
		t.Errorf("User.ID = %q, want %q", result.User.ID, "user-1")
	}
	if !result.Session.ExpiresAt.Equal(created.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want original %v", result.Session.ExpiresAt, created.ExpiresAt)
	}
	if result.Renewed {
		t.Error("session should not be renewed right after creation")
	}
}

func TestSessionStore_Validate_InsideRenewWindow_ExtendsOnce(t *testing.T) {
	store, db, clock, metrics := newTestSessionStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "tok", "user-1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// expiry - 15d ちょうど
	clock.Advance(15 * 24 * time.Hour)
	renewAt := clock.Now()

	result, err := store.Validate(ctx, "tok")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid() || !result.Renewed {
		t.Fatalf("result = %+v, want valid and renewed", result)
	}
	wantExpiry := renewAt.Add(30 * 24 * time.Hour)
	if !result.Session.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", result.Session.ExpiresAt, wantExpiry)
	}
	stored, _ := db.session(SessionID("tok"))
	if !stored.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("stored ExpiresAt = %v, want %v", stored.ExpiresAt, wantExpiry)
	}

	// 直後の再検証では延長しない
	again, err := store.Validate(ctx, "tok")
	if err != nil {
		t.Fatalf("second Validate() error = %v", err)
	}
	if again.Renewed {
		t.Error("second validate should not renew again")
	}
	if !again.Session.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("second ExpiresAt = %v, want %v", again.Session.ExpiresAt, wantExpiry)
	}
	if metrics.renewed != 1 {
		t.Errorf("renewed metric = %d, want 1", metrics.renewed)
	}
}

func TestSessionStore_Validate_JustBeforeRenewWindow_DoesNotRenew(t *testing.T) {
	store, _, clock, _ := newTestSessionStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "tok", "user-1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(15*24*time.Hour - time.Second)

	result, err := store.Validate(ctx, "tok")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Renewed {
		t.Error("session should not renew before the renewal window")
	}
}

func TestSessionStore_Validate_Expired_DeletesRecord(t *testing.T) {
	store, db, clock, metrics := newTestSessionStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "tok", "user-1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// now == expiry は期限切れ
	clock.Advance(30 * 24 * time.Hour)

	result, err := store.Validate(ctx, "tok")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Status != SessionExpired {
		t.Fatalf("Status = %v, want expired", result.Status)
	}
	if result.User != nil || result.Session != nil {
		t.Error("expired result should not carry user or session")
	}
	if _, ok := db.session(SessionID("tok")); ok {
		t.Error("expired session should be deleted on read")
	}

	again, err := store.Validate(ctx, "tok")
	if err != nil {
		t.Fatalf("second Validate() error = %v", err)
	}
	if again.Status != SessionNotFound {
		t.Errorf("second Status = %v, want not_found", again.Status)
	}
	if metrics.validations["expired"] != 1 || metrics.validations["not_found"] != 1 {
		t.Errorf("validations = %v", metrics.validations)
	}
}

func TestSessionStore_Invalidate_ThenValidate_NotFound(t *testing.T) {
	store, _, _, _ := newTestSessionStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "tok", "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Invalidate(ctx, session.ID); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	result, err := store.Validate(ctx, "tok")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Status != SessionNotFound {
		t.Errorf("Status = %v, want not_found", result.Status)
	}
}

func TestSessionStore_Invalidate_Idempotent(t *testing.T) {
	store, _, _, _ := newTestSessionStore(t)

	if err := store.Invalidate(context.Background(), SessionID("never-issued")); err != nil {
		t.Errorf("Invalidate() of unknown id error = %v, want nil", err)
	}
}

func TestSessionStore_Validate_EmptyToken_NotFound(t *testing.T) {
	store, _, _, _ := newTestSessionStore(t)

	result, err := store.Validate(context.Background(), "")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Status != SessionNotFound {
		t.Errorf("Status = %v, want not_found", result.Status)
	}
}

func TestSessionStore_Validate_StoreError_IsSurfaced(t *testing.T) {
	storeErr := errors.New("connection reset")
	repo := &mockSessionRepo{
		findWithUserFn: func(ctx context.Context, id string) (*model.Session, *model.User, error) {
			return nil, nil, storeErr
		},
	}
	store := NewSessionStore(repo, SessionStoreConfig{}, nil)

	_, err := store.Validate(context.Background(), "tok")
	if !errors.Is(err, storeErr) {
		t.Errorf("Validate() error = %v, want wrapped store error", err)
	}
}

func TestSessionStore_Validate_RenewFailure_IsSurfaced(t *testing.T) {
	now := baseTime
	repo := &mockSessionRepo{
		findWithUserFn: func(ctx context.Context, id string) (*model.Session, *model.User, error) {
			return &model.Session{ID: id, UserID: "u", ExpiresAt: now.Add(time.Hour)}, &model.User{ID: "u"}, nil
		},
		updateExpiryFn: func(ctx context.Context, id string, expiresAt time.Time) error {
			return errors.New("write failed")
		},
	}
	store := NewSessionStore(repo, SessionStoreConfig{Now: func() time.Time { return now }}, nil)

	if _, err := store.Validate(context.Background(), "tok"); err == nil {
		t.Error("Validate() should surface renewal write failure")
	}
}

func TestSessionStore_Create_StoreError(t *testing.T) {
	repo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			return errors.New("insert failed")
		},
	}
	store := NewSessionStore(repo, SessionStoreConfig{}, nil)

	if _, err := store.Create(context.Background(), "tok", "u"); err == nil {
		t.Error("Create() should return store error")
	}
}

func TestNewSessionStore_Defaults(t *testing.T) {
	store := NewSessionStore(&mockSessionRepo{}, SessionStoreConfig{}, nil)
	if store.TTL() != DefaultSessionTTL {
		t.Errorf("TTL() = %v, want %v", store.TTL(), DefaultSessionTTL)
	}
	if store.config.RenewWindow != DefaultRenewWindow {
		t.Errorf("RenewWindow = %v, want %v", store.config.RenewWindow, DefaultRenewWindow)
	}
}

func TestSessionStatus_String(t *testing.T) {
	tests := map[SessionStatus]string{
		SessionValid:    "valid",
		SessionExpired:  "expired",
		SessionNotFound: "not_found",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", status, got, want)
		}
	}
}
