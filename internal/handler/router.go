package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/allergyboard/internal/middleware"
	"github.com/hitoshi/allergyboard/internal/ratelimit"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	StatusRecorder middleware.StatusRecorder
	Logger         *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	// TrustProxyHeaders が真の場合のみchiのRealIPでRemoteAddrを書き換える。
	TrustProxyHeaders bool
	RateLimiter       *middleware.RateLimiter
	FeatureLimiter    middleware.FeatureChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP（TrustProxyHeaders時のみ） → Logging → Metrics → SecurityHeaders → CORS
//
// /api 配下はさらに Session → RateLimit(General) → CSRF を通す。
// ログインと登録完了はクライアントIP単位の機能別レート制限を通す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	// 転送ヘッダーはクライアントが自由に付けられるため、プロキシ配下でのみ採用する
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{
		HSTS: deps.AuthConfig.Cookies.Secure,
	}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	cookies := deps.AuthConfig.Cookies

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, cookies)

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート（セッション不要） ---
	loginLimit := featureLimit(deps, ratelimit.FeatureLogin)
	registrationLimit := featureLimit(deps, ratelimit.FeatureRegistration)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/register/pending", authHandler.PendingRegistration)
		r.With(registrationLimit).Post("/register", authHandler.Register)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		r.With(loginLimit).Get("/{provider}/login", authHandler.Login)
		r.Get("/{provider}/callback", authHandler.Callback)
	})

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.AuthService, cookies))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}
		r.Use(middleware.NewCSRFMiddleware(cookies))

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(cookies).ServeHTTP)
		r.Delete("/users/me", userHandler.Withdraw)
	})

	return r
}

// featureLimit は機能別レート制限ミドルウェアを返す。FeatureLimiterが未設定の場合は何もしない。
func featureLimit(deps *RouterDeps, feature string) func(http.Handler) http.Handler {
	if deps.FeatureLimiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.NewFeatureLimitMiddleware(deps.FeatureLimiter, feature, deps.AuthConfig.LoginURL())
}
