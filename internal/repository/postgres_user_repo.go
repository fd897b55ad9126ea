package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/allergyboard/internal/model"
)

// oauthAccountsPKey はoauth_accountsの主キー制約名。
const oauthAccountsPKey = "oauth_accounts_pkey"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var row userScan
	query := `SELECT ` + selectUserColumns("") + ` FROM users WHERE id = $1`
	if err := r.db.QueryRowContext(ctx, query, id).Scan(row.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user %s: %w", id, err)
	}
	return row.result(), nil
}

// CreateWithLink はユーザー行と紐付け行を1つのトランザクションで挿入する。
// 主キー違反はコミット時に検出される場合もあるため、両方の地点でErrDuplicateLinkへ変換する。
func (r *PostgresUserRepo) CreateWithLink(ctx context.Context, user *model.User, link *model.OAuthAccountLink) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (`+selectUserColumns("")+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Name, user.Phone, user.PhotoURL, user.Email, string(user.Role), user.CreatedAt, user.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert user %s: %w", user.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO oauth_accounts (provider, external_id, user_id, access_token, refresh_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		link.Provider, link.ExternalID, link.UserID, link.AccessToken, link.RefreshToken, link.CreatedAt, link.UpdatedAt,
	); err != nil {
		return linkInsertError(link, "insert", err)
	}

	if err := tx.Commit(); err != nil {
		return linkInsertError(link, "commit", err)
	}
	return nil
}

// linkInsertError は紐付け挿入の失敗を、主キー違反ならErrDuplicateLinkでラップして返す。
func linkInsertError(link *model.OAuthAccountLink, stage string, err error) error {
	if isUniqueViolation(err, oauthAccountsPKey) {
		err = ErrDuplicateLink
	}
	return fmt.Errorf("failed to %s oauth account %s/%s: %w", stage, link.Provider, link.ExternalID, err)
}

// DeleteByID はユーザーを削除する。oauth_accountsとsessionsはCASCADEで消える。
// 該当行がなければErrUserNotFoundを返す。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	var deleted string
	err := r.db.QueryRowContext(ctx, `DELETE FROM users WHERE id = $1 RETURNING id`, id).Scan(&deleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to delete user %s: %w", id, ErrUserNotFound)
	case err != nil:
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	return nil
}

var _ UserRepository = (*PostgresUserRepo)(nil)
