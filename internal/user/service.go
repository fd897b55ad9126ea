// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/allergyboard/internal/model"
	"github.com/hitoshi/allergyboard/internal/repository"
)

// SessionDeleter はユーザーのセッション一括削除インターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	sessions SessionDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sessions SessionDeleter) *Service {
	return &Service{
		userRepo: userRepo,
		sessions: sessions,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: oauth_accounts）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("withdrawing user",
		slog.String("user_id", userID),
	)

	if s.sessions != nil {
		if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		// 並行した退会で先に削除された場合
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user withdrawn",
		slog.String("user_id", userID),
	)

	return nil
}
