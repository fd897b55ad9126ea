// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/allergyboard/internal/auth"
	"github.com/hitoshi/allergyboard/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// authContextKey は認証済みリクエストの情報を格納するキー。
var authContextKey = contextKey("auth")

// ErrNoAuthenticatedUser はコンテキストに認証済みユーザーがないことを示す。
var ErrNoAuthenticatedUser = errors.New("no authenticated user in context")

// authInfo はセッション検証を通過したリクエストに付与される。
type authInfo struct {
	userID string
	user   *model.User
	token  string
}

// SessionValidator はセッショントークンの検証に必要なインターフェース。
// auth.Serviceが実装する。
type SessionValidator interface {
	Authenticate(ctx context.Context, token string) (auth.SessionResult, error)
}

// NewSessionMiddleware はセッションCookieを検証し、通過したリクエストにユーザーを紐付ける。
//
//   - Cookieなし: 401（検証は呼ばない）
//   - 期限切れ・未登録: Cookieを削除して401
//   - ストア障害: Cookieを残して500
//   - 延長された場合: 新しい有効期限でCookieを再発行
func NewSessionMiddleware(validator SessionValidator, cookies CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := CookieValue(r, SessionCookieName)
			if token == "" {
				WriteAPIError(w, model.NewUnauthorizedError())
				return
			}

			result, err := validator.Authenticate(r.Context(), token)
			switch {
			case err != nil:
				slog.Error("failed to validate session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			case !result.Valid():
				slog.Debug("session rejected",
					slog.String("path", r.URL.Path),
					slog.String("status", result.Status.String()),
				)
				ClearCookie(w, cookies, SessionCookieName)
				WriteAPIError(w, model.NewUnauthorizedError())
				return
			}

			if result.Renewed {
				SetCookie(w, cookies, SessionCookieName, token, time.Until(result.Session.ExpiresAt))
			}

			annotateUserID(r.Context(), result.User.ID)
			info := &authInfo{userID: result.User.ID, user: result.User, token: token}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authContextKey, info)))
		})
	}
}

func authFromContext(ctx context.Context) *authInfo {
	info, _ := ctx.Value(authContextKey).(*authInfo)
	return info
}

// UserIDFromContext は認証済みユーザーのIDを返す。
// セッションミドルウェアを通過していなければErrNoAuthenticatedUserを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	info := authFromContext(ctx)
	if info == nil || info.userID == "" {
		return "", ErrNoAuthenticatedUser
	}
	return info.userID, nil
}

// UserFromContext は認証済みユーザーを返す。ContextWithUserIDで作られたコンテキストではfalseを返す。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	info := authFromContext(ctx)
	if info == nil || info.user == nil {
		return nil, false
	}
	return info.user, true
}

// SessionTokenFromContext は検証済みのセッショントークンを返す。未認証なら空文字列。
func SessionTokenFromContext(ctx context.Context) string {
	if info := authFromContext(ctx); info != nil {
		return info.token
	}
	return ""
}

// ContextWithUserID はユーザーIDのみを持つ認証情報をコンテキストに付与する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, authContextKey, &authInfo{userID: userID})
}

// ContextWithUser はユーザーとそのIDをコンテキストに付与する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, authContextKey, &authInfo{userID: user.ID, user: user})
}
