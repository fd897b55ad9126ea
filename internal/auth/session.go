package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/allergyboard/internal/model"
	"github.com/hitoshi/allergyboard/internal/repository"
)

const (
	// DefaultSessionTTL はセッションの有効期間。
	DefaultSessionTTL = 30 * 24 * time.Hour
	// DefaultRenewWindow は有効期限の何時間前から延長するかを表す。
	DefaultRenewWindow = 15 * 24 * time.Hour
)

// SessionStatus はセッション検証結果の種別。
type SessionStatus int

const (
	// SessionNotFound は該当するセッションが存在しないことを示す。
	SessionNotFound SessionStatus = iota
	// SessionExpired はセッションが期限切れで、削除済みであることを示す。
	SessionExpired
	// SessionValid はセッションが有効であることを示す。
	SessionValid
)

// String はメトリクスラベルとログ用の名前を返す。
func (s SessionStatus) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionExpired:
		return "expired"
	default:
		return "not_found"
	}
}

// SessionResult はセッション検証の結果。
// StatusがSessionValidの場合のみUserとSessionが設定される。
type SessionResult struct {
	Status  SessionStatus
	User    *model.User
	Session *model.Session
	// Renewed は今回の検証で有効期限が延長されたかどうか。
	Renewed bool
}

// Valid はセッションが有効かどうかを返す。
func (r SessionResult) Valid() bool {
	return r.Status == SessionValid
}

// SessionStoreConfig はセッションストアの設定。
type SessionStoreConfig struct {
	TTL         time.Duration
	RenewWindow time.Duration
	// Now は現在時刻の取得関数。nilの場合はtime.Nowを使用する。
	Now func() time.Time
}

// SessionStore はセッションの発行、検証（スライディング有効期限）、破棄を行う。
type SessionStore struct {
	repo    repository.SessionRepository
	config  SessionStoreConfig
	metrics Metrics
}

// NewSessionStore はSessionStoreを生成する。
// metricsがnilの場合は計測を行わない。
func NewSessionStore(repo repository.SessionRepository, config SessionStoreConfig, metrics Metrics) *SessionStore {
	if config.TTL <= 0 {
		config.TTL = DefaultSessionTTL
	}
	if config.RenewWindow <= 0 || config.RenewWindow >= config.TTL {
		config.RenewWindow = config.TTL / 2
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &SessionStore{repo: repo, config: config, metrics: metrics}
}

// TTL はセッションの有効期間を返す。
func (s *SessionStore) TTL() time.Duration {
	return s.config.TTL
}

// Create はトークンに対応するセッションを作成し永続化する。
// 有効期限は現在時刻 + TTL。
func (s *SessionStore) Create(ctx context.Context, token, userID string) (*model.Session, error) {
	now := s.config.Now()
	session := &model.Session{
		ID:        SessionID(token),
		UserID:    userID,
		ExpiresAt: now.Add(s.config.TTL),
		CreatedAt: now,
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.metrics.RecordSessionCreated()
	return session, nil
}

// Validate はトークンに対応するセッションを検証する。
//   - 存在しない場合はSessionNotFoundを返す。
//   - now >= 有効期限 の場合はレコードを削除してSessionExpiredを返す。
//   - now >= 有効期限 - RenewWindow の場合は有効期限を now + TTL に延長してから返す。
//
// ストアの障害は検証失敗とは区別してエラーとして返す。
func (s *SessionStore) Validate(ctx context.Context, token string) (SessionResult, error) {
	if token == "" {
		s.metrics.RecordSessionValidation(SessionNotFound.String())
		return SessionResult{Status: SessionNotFound}, nil
	}

	id := SessionID(token)
	session, user, err := s.repo.FindWithUser(ctx, id)
	if err != nil {
		return SessionResult{}, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || user == nil {
		s.metrics.RecordSessionValidation(SessionNotFound.String())
		return SessionResult{Status: SessionNotFound}, nil
	}

	now := s.config.Now()

	if !now.Before(session.ExpiresAt) {
		if err := s.repo.DeleteByID(ctx, id); err != nil {
			return SessionResult{}, fmt.Errorf("failed to delete expired session: %w", err)
		}
		slog.Info("expired session removed",
			slog.String("session_id", id),
			slog.String("user_id", session.UserID),
		)
		s.metrics.RecordSessionValidation(SessionExpired.String())
		return SessionResult{Status: SessionExpired}, nil
	}

	renewed := false
	if !now.Before(session.ExpiresAt.Add(-s.config.RenewWindow)) {
		newExpiry := now.Add(s.config.TTL)
		if err := s.repo.UpdateExpiry(ctx, id, newExpiry); err != nil {
			return SessionResult{}, fmt.Errorf("failed to renew session: %w", err)
		}
		session.ExpiresAt = newExpiry
		renewed = true
		s.metrics.RecordSessionRenewed()
	}

	s.metrics.RecordSessionValidation(SessionValid.String())
	return SessionResult{
		Status:  SessionValid,
		User:    user,
		Session: session,
		Renewed: renewed,
	}, nil
}

// Invalidate は指定IDのセッションを削除する。
// 存在しないIDの削除もエラーにしない。
func (s *SessionStore) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.repo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
