package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/allergyboard/internal/middleware"
	"github.com/hitoshi/allergyboard/internal/model"
)

// UserServiceInterface はアカウント削除に必要なサービス操作。user.Serviceが実装する。
type UserServiceInterface interface {
	// Withdraw はユーザーの全セッションを破棄してからユーザーを削除する。
	// 紐付けはCASCADEで消える。ユーザーが既にいなければUSER_NOT_FOUNDのAPIErrorを返す。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler は /api/users 配下のハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies middleware.CookieConfig
}

func NewUserHandler(service UserServiceInterface, cookies middleware.CookieConfig) *UserHandler {
	return &UserHandler{service: service, cookies: cookies}
}

// Withdraw は DELETE /api/users/me を処理する。
//
// 成功時はサーバー側のセッションが全て消えているので、セッションCookieも削除して204を返す。
// 失敗時はCookieに触れない。
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.ClearCookie(w, h.cookies, middleware.SessionCookieName)
	w.WriteHeader(http.StatusNoContent)
}
