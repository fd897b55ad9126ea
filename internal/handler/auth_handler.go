// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/allergyboard/internal/auth"
	"github.com/hitoshi/allergyboard/internal/middleware"
	"github.com/hitoshi/allergyboard/internal/model"
)

// oauthFlowCookieMaxAge はstateとcode_verifierのCookieの有効期間。
const oauthFlowCookieMaxAge = 10 * time.Minute

// ログイン画面に付与するエラー種別。
const (
	loginErrorOAuthFailed          = "oauth_failed"
	loginErrorRegistrationExpired  = "registration_expired"
	loginErrorAccountAlreadyExists = "account_exists"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// auth.Serviceが実装する。
type AuthServiceInterface interface {
	BeginLogin(provider string) (*auth.LoginRequest, error)
	HandleCallback(ctx context.Context, req auth.CallbackRequest) (*auth.CallbackResult, error)
	PendingProfile(cookie string) (*model.PendingRegistrationProfile, error)
	CompleteRegistration(ctx context.Context, cookie string, form auth.RegistrationForm) (*auth.IssuedSession, error)
	Authenticate(ctx context.Context, token string) (auth.SessionResult, error)
	Logout(ctx context.Context, token string) error
	SessionTTL() time.Duration
	PendingTTL() time.Duration
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はフロントエンドのオリジン。リダイレクト先の前置に使う。
	BaseURL       string
	LoginPath     string
	RegisterPath  string
	DashboardPath string
	Cookies       middleware.CookieConfig
}

// LoginURL はログイン画面のURLを返す。
func (c AuthHandlerConfig) LoginURL() string {
	return c.BaseURL + c.LoginPath
}

func (c AuthHandlerConfig) loginURLWithError(kind string) string {
	return c.LoginURL() + "?" + url.Values{"error": {kind}}.Encode()
}

// AuthHandler は外部IdPログインと登録フローのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// userResponse はログインユーザー情報のレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Photo string `json:"photo"`
	Role  string `json:"role"`
}

// pendingProfileResponse は登録フォームの初期値のレスポンス。
type pendingProfileResponse struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Photo    string `json:"photo"`
	Role     string `json:"role"`
}

// Login は外部IdPのOAuthフローを開始する。
// GET /auth/{provider}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	req, err := h.service.BeginLogin(provider)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownProvider) {
			writeAPIErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(provider))
			return
		}
		slog.Error("failed to begin login",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.SetCookie(w, h.config.Cookies, middleware.OAuthStateCookieName, req.State, oauthFlowCookieMaxAge)
	if req.CodeVerifier != "" {
		middleware.SetCookie(w, h.config.Cookies, middleware.CodeVerifierCookieName, req.CodeVerifier, oauthFlowCookieMaxAge)
	}

	http.Redirect(w, r, req.URL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	storedState := middleware.CookieValue(r, middleware.OAuthStateCookieName)
	storedVerifier := middleware.CookieValue(r, middleware.CodeVerifierCookieName)

	// 成否にかかわらずフロー用Cookieは1回限り
	middleware.ClearCookie(w, h.config.Cookies, middleware.OAuthStateCookieName)
	middleware.ClearCookie(w, h.config.Cookies, middleware.CodeVerifierCookieName)

	if idpErr := query.Get("error"); idpErr != "" {
		slog.Warn("provider returned oauth error",
			slog.String("provider", provider),
			slog.String("oauth_error", idpErr),
		)
		http.Redirect(w, r, h.config.loginURLWithError(loginErrorOAuthFailed), http.StatusTemporaryRedirect)
		return
	}

	result, err := h.service.HandleCallback(r.Context(), auth.CallbackRequest{
		Provider:       provider,
		Code:           query.Get("code"),
		State:          query.Get("state"),
		StoredState:    storedState,
		StoredVerifier: storedVerifier,
	})
	if err != nil {
		var providerErr *auth.ProviderError
		switch {
		case errors.Is(err, auth.ErrUnknownProvider):
			writeAPIErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(provider))
		case auth.IsProtocolError(err):
			slog.Warn("oauth callback rejected",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
			http.Redirect(w, r, h.config.loginURLWithError(loginErrorOAuthFailed), http.StatusTemporaryRedirect)
		case errors.As(err, &providerErr):
			slog.Error("oauth provider call failed",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
			writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewProviderError(provider))
		default:
			slog.Error("oauth callback failed",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
		}
		return
	}

	switch result.Outcome {
	case auth.OutcomeLinked:
		middleware.SetCookie(w, h.config.Cookies, middleware.SessionCookieName, result.SessionToken, h.service.SessionTTL())
		http.Redirect(w, r, h.config.BaseURL+h.config.DashboardPath, http.StatusTemporaryRedirect)
	case auth.OutcomeRegistrationPending:
		middleware.SetCookie(w, h.config.Cookies, middleware.PendingRegistrationCookieName, result.PendingCookie, h.service.PendingTTL())
		http.Redirect(w, r, h.config.BaseURL+h.config.RegisterPath, http.StatusTemporaryRedirect)
	default:
		slog.Error("unexpected callback outcome",
			slog.String("provider", provider),
			slog.String("outcome", result.Outcome.String()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// PendingRegistration は登録フォームの初期値を返す。
// GET /auth/register/pending
func (h *AuthHandler) PendingRegistration(w http.ResponseWriter, r *http.Request) {
	cookie := middleware.CookieValue(r, middleware.PendingRegistrationCookieName)
	if cookie == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewRegistrationExpiredError())
		return
	}

	profile, err := h.service.PendingProfile(cookie)
	if err != nil {
		middleware.ClearCookie(w, h.config.Cookies, middleware.PendingRegistrationCookieName)
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewRegistrationExpiredError())
		return
	}

	writeJSON(w, http.StatusOK, pendingProfileResponse{
		Provider: profile.Provider,
		Name:     profile.Name,
		Email:    profile.Email,
		Phone:    profile.Phone,
		Photo:    profile.Photo,
		Role:     string(profile.Role),
	})
}

// Register は登録フォームの送信を処理し、ユーザーと紐付けを作成してログインさせる。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	cookie := middleware.CookieValue(r, middleware.PendingRegistrationCookieName)

	issued, err := h.service.CompleteRegistration(r.Context(), cookie, auth.RegistrationForm{
		Name:  r.PostFormValue("name"),
		Phone: r.PostFormValue("phone"),
		Role:  r.PostFormValue("role"),
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRole):
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRoleError(r.PostFormValue("role")))
		case errors.Is(err, auth.ErrPendingRegistrationInvalid):
			middleware.ClearCookie(w, h.config.Cookies, middleware.PendingRegistrationCookieName)
			http.Redirect(w, r, h.config.loginURLWithError(loginErrorRegistrationExpired), http.StatusSeeOther)
		case errors.Is(err, auth.ErrAccountAlreadyExists):
			middleware.ClearCookie(w, h.config.Cookies, middleware.PendingRegistrationCookieName)
			http.Redirect(w, r, h.config.loginURLWithError(loginErrorAccountAlreadyExists), http.StatusSeeOther)
		default:
			slog.Error("failed to complete registration", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
		}
		return
	}

	middleware.ClearCookie(w, h.config.Cookies, middleware.PendingRegistrationCookieName)
	middleware.SetCookie(w, h.config.Cookies, middleware.SessionCookieName, issued.Token, h.service.SessionTTL())
	http.Redirect(w, r, h.config.BaseURL+h.config.DashboardPath, http.StatusSeeOther)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.CookieValue(r, middleware.SessionCookieName); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			// 失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	middleware.ClearCookie(w, h.config.Cookies, middleware.SessionCookieName)
	http.Redirect(w, r, h.config.LoginURL(), http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token := middleware.CookieValue(r, middleware.SessionCookieName)
	if token == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	result, err := h.service.Authenticate(r.Context(), token)
	if err != nil {
		slog.Error("failed to validate session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if !result.Valid() {
		middleware.ClearCookie(w, h.config.Cookies, middleware.SessionCookieName)
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	if result.Renewed {
		middleware.SetCookie(w, h.config.Cookies, middleware.SessionCookieName, token, time.Until(result.Session.ExpiresAt))
	}

	writeJSON(w, http.StatusOK, toUserResponse(result.User))
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Phone: u.Phone,
		Photo: u.PhotoURL,
		Role:  string(u.Role),
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	middleware.WriteJSON(w, statusCode, v)
}
