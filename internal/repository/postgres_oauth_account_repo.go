package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/allergyboard/internal/model"
)

// PostgresOAuthAccountRepo はPostgreSQLを使用したOAuthアカウント紐付けリポジトリ。
type PostgresOAuthAccountRepo struct {
	db *sql.DB
}

// NewPostgresOAuthAccountRepo はPostgresOAuthAccountRepoを生成する。
func NewPostgresOAuthAccountRepo(db *sql.DB) *PostgresOAuthAccountRepo {
	return &PostgresOAuthAccountRepo{db: db}
}

// FindByProviderAndExternalID はproviderとexternal_idで紐付けを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresOAuthAccountRepo) FindByProviderAndExternalID(ctx context.Context, provider, externalID string) (*model.OAuthAccountLink, error) {
	link := &model.OAuthAccountLink{}
	err := r.db.QueryRowContext(ctx,
		`SELECT provider, external_id, user_id, access_token, refresh_token, created_at, updated_at
		 FROM oauth_accounts
		 WHERE provider = $1 AND external_id = $2`,
		provider, externalID,
	).Scan(&link.Provider, &link.ExternalID, &link.UserID, &link.AccessToken, &link.RefreshToken, &link.CreatedAt, &link.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find oauth account %s/%s: %w", provider, externalID, err)
	}

	return link, nil
}

// UpdateTokens は紐付けに保存されたプロバイダートークンを更新する。
// refreshTokenが空の場合は既存のリフレッシュトークンを維持する。
func (r *PostgresOAuthAccountRepo) UpdateTokens(ctx context.Context, provider, externalID, accessToken, refreshToken string, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE oauth_accounts
		 SET access_token = $3,
		     refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
		     updated_at = $5
		 WHERE provider = $1 AND external_id = $2`,
		provider, externalID, accessToken, refreshToken, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update oauth account tokens: %w", err)
	}
	return nil
}

var _ OAuthAccountRepository = (*PostgresOAuthAccountRepo)(nil)
