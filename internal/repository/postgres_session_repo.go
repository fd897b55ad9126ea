package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/allergyboard/internal/model"
)

// PostgresSessionRepo はsessionsテーブルを扱う。IDにはトークンのダイジェストが入る。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create session for user %s: %w", session.UserID, err)
	}
	return nil
}

// FindWithUser はセッション行と所有ユーザーを1クエリで取得する。
// 期限判定は呼び出し側の責務なので期限切れの行も返す。
func (r *PostgresSessionRepo) FindWithUser(ctx context.Context, id string) (*model.Session, *model.User, error) {
	var (
		session model.Session
		owner   userScan
	)
	dest := append([]any{&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt}, owner.dest()...)

	err := r.db.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.expires_at, s.created_at, `+selectUserColumns("u")+`
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1`,
		id,
	).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &session, owner.result(), nil
}

// UpdateExpiry は有効期限を延長する。既存の期限より短い値では上書きしないため、
// 並行したリクエストによる延長が競合しても期限は後退しない。
func (r *PostgresSessionRepo) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = GREATEST(expires_at, $2) WHERE id = $1`,
		id, expiresAt,
	); err != nil {
		return fmt.Errorf("failed to update session expiry: %w", err)
	}
	return nil
}

// DeleteByID は存在しないIDに対してもエラーを返さない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete sessions of user %s: %w", userID, err)
	}
	return nil
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
