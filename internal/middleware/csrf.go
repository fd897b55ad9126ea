package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/allergyboard/internal/model"
)

const (
	// csrfCookieName はダブルサブミット用トークンのCookie名。
	// フロントエンドが読み取ってヘッダーに載せるためHttpOnlyにしない。
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	csrfCookieTTL  = 24 * time.Hour
	csrfTokenBytes = 32
)

var csrfTokenContextKey = contextKey("csrf_token")

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRF検証ミドルウェアを返す。
// GET/HEAD/OPTIONSは検証せず、トークンCookieがなければ発行する。
// それ以外のメソッドはCookieとX-CSRF-Tokenヘッダーの一致を要求し、不一致は403を返す。
// 有効なトークンはCSRFTokenFromContextで取得できる。
func NewCSRFMiddleware(cookies CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				token, err := currentOrIssueCSRFToken(w, r, cookies)
				if err != nil {
					slog.Error("failed to issue csrf token", slog.String("error", err.Error()))
				} else {
					r = r.WithContext(context.WithValue(r.Context(), csrfTokenContextKey, token))
				}
				next.ServeHTTP(w, r)
				return
			}

			token, reason := checkCSRFToken(r)
			if reason != "" {
				slog.Warn("csrf validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteAPIError(w, model.NewCSRFTokenInvalidError())
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfTokenContextKey, token)))
		})
	}
}

// NewCSRFTokenHandler は GET /api/csrf-token のハンドラーを返す。
// CSRFミドルウェアの内側ではミドルウェアが確定したトークンをそのまま返す。
func NewCSRFTokenHandler(cookies CookieConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := CSRFTokenFromContext(r.Context())
		if !ok {
			var err error
			token, err = currentOrIssueCSRFToken(w, r, cookies)
			if err != nil {
				slog.Error("failed to issue csrf token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"token": token})
	})
}

// CSRFTokenFromContext はリクエストに対応するCSRFトークンを返す。
func CSRFTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(csrfTokenContextKey).(string)
	return token, ok && token != ""
}

// checkCSRFToken はCookieとヘッダーのトークンを照合する。
// 一致すればトークンを、失敗すればログ用の理由を返す。
func checkCSRFToken(r *http.Request) (token, reason string) {
	cookieToken := CookieValue(r, csrfCookieName)
	if cookieToken == "" {
		return "", "missing_cookie"
	}
	headerToken := r.Header.Get(csrfHeaderName)
	if headerToken == "" {
		return "", "missing_header"
	}
	if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
		return "", "mismatch"
	}
	return cookieToken, ""
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// currentOrIssueCSRFToken は既存のトークンCookieを返し、なければ新規に発行して設定する。
func currentOrIssueCSRFToken(w http.ResponseWriter, r *http.Request, cookies CookieConfig) (string, error) {
	if token := CookieValue(r, csrfCookieName); token != "" {
		return token, nil
	}

	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	token := hex.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   cookies.Domain,
		MaxAge:   int(csrfCookieTTL / time.Second),
		HttpOnly: false,
		Secure:   cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}
