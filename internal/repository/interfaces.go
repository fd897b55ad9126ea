// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/allergyboard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithLink はユーザーとOAuthアカウント紐付けを同一トランザクションで作成する。
	// 同じ (provider, external_id) の紐付けが既に存在する場合はErrDuplicateLinkを返し、
	// ユーザーも作成されない。
	CreateWithLink(ctx context.Context, user *model.User, link *model.OAuthAccountLink) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するoauth_accounts、sessionsはCASCADE削除される。存在しない場合はErrUserNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// OAuthAccountRepository は外部IdP紐付け情報の永続化インターフェース。
type OAuthAccountRepository interface {
	// FindByProviderAndExternalID はproviderとexternal_idで紐付けを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndExternalID(ctx context.Context, provider, externalID string) (*model.OAuthAccountLink, error)

	// UpdateTokens は紐付けに保存されたプロバイダートークンを更新する。
	// refreshTokenが空の場合は既存のリフレッシュトークンを維持する。
	UpdateTokens(ctx context.Context, provider, externalID, accessToken, refreshToken string, updatedAt time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindWithUser は指定IDのセッションを所有ユーザーと共に取得する。
	// 期限切れでも行が存在すれば返す。見つからない場合は両方nilを返す。
	FindWithUser(ctx context.Context, id string) (*model.Session, *model.User, error)
	// UpdateExpiry はセッションの有効期限を延長する。既存の期限より前には戻さない。
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
