package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/allergyboard/internal/auth"
	"github.com/hitoshi/allergyboard/internal/config"
	"github.com/hitoshi/allergyboard/internal/database"
	"github.com/hitoshi/allergyboard/internal/handler"
	"github.com/hitoshi/allergyboard/internal/logger"
	"github.com/hitoshi/allergyboard/internal/metrics"
	"github.com/hitoshi/allergyboard/internal/middleware"
	"github.com/hitoshi/allergyboard/internal/ratelimit"
	"github.com/hitoshi/allergyboard/internal/repository"
	"github.com/hitoshi/allergyboard/internal/user"
	"github.com/hitoshi/allergyboard/internal/worker/cleanup"
)

const (
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 30 * time.Second
	// healthcheckTimeout はhealthcheckサブコマンドが/healthの応答を待つ時間。
	healthcheckTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	if !cmd.NeedsConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return fmt.Errorf("unsupported command %q", cmd)
	}
}

// openDatabase はDB接続プールを開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("database connection established",
		slog.Int("max_open_conns", cfg.DBMaxOpenConns),
	)
	return db, nil
}

// sharedStores はレート制限カウンターと登録待ちCookieの使用済み記録の保存先。
type sharedStores struct {
	counters ratelimit.CounterStore
	replay   auth.ReplayGuard
	backend  string
	close    func()
}

// openSharedStores はREDIS_URLが設定されていればRedis、なければインメモリの保存先を返す。
// インメモリの場合はインスタンス間で共有されないため、単一インスタンス構成でのみ正しく動作する。
func openSharedStores(ctx context.Context, cfg *config.Config) (*sharedStores, error) {
	if cfg.RedisURL == "" {
		mem := ratelimit.NewMemoryStore(time.Minute)
		return &sharedStores{
			counters: mem,
			replay:   auth.NewMemoryReplayGuard(nil),
			backend:  "memory",
			close:    mem.Stop,
		}, nil
	}

	client, err := database.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return &sharedStores{
		counters: ratelimit.NewRedisStore(client),
		replay:   auth.NewRedisReplayGuard(client),
		backend:  "redis",
		close: func() {
			if err := client.Close(); err != nil {
				slog.Warn("failed to close redis client", slog.String("error", err.Error()))
			}
		},
	}, nil
}

// buildProviders は設定済みの外部IdPを登録したRegistryを返す。
func buildProviders(cfg *config.Config) *auth.Registry {
	providers := []auth.Provider{
		auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}),
	}
	if cfg.GitHubEnabled() {
		providers = append(providers, auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
		}))
	}

	registry := auth.NewRegistry(providers...)
	slog.Info("identity providers configured", slog.Any("providers", registry.Names()))
	return registry
}

// featurePolicies は機能別レート制限のポリシーを返す。
func featurePolicies(cfg *config.Config) map[string]ratelimit.Policy {
	return map[string]ratelimit.Policy{
		ratelimit.FeatureLogin: {
			Limit:  cfg.RateLimitLogin,
			Window: cfg.RateLimitLoginWindow,
		},
		ratelimit.FeatureRegistration: {
			Limit:  cfg.RateLimitRegistration,
			Window: cfg.RateLimitRegistrationWindow,
		},
	}
}

// generalRateLimiterConfig はRATE_LIMIT_GENERAL（req/min）をトークンバケットの設定に変換する。
func generalRateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	return rlCfg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. 共有ストア（Redisまたはインメモリ）
	stores, err := openSharedStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.close()
	slog.Info("shared stores ready", slog.String("backend", stores.backend))

	// 3. メトリクス
	reg := metrics.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	linkRepo := repository.NewPostgresOAuthAccountRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 5. ドメインサービスの初期化
	sessions := auth.NewSessionStore(sessionRepo, auth.SessionStoreConfig{
		TTL:         cfg.SessionTTL,
		RenewWindow: cfg.SessionRenewWindow,
	}, collector)

	pending, err := auth.NewPendingRegistrationCodec(cfg.SessionSecret, cfg.PendingRegistrationTTL, nil)
	if err != nil {
		return fmt.Errorf("failed to create pending registration codec: %w", err)
	}

	authService := auth.NewService(
		buildProviders(cfg),
		sessions,
		pending,
		stores.replay,
		userRepo,
		linkRepo,
		auth.ServiceConfig{Metrics: collector},
	)
	userService := user.NewService(userRepo, sessionRepo)

	// 6. レート制限
	featureLimiter := ratelimit.NewLimiter(stores.counters, ratelimit.Config{
		Policies: featurePolicies(cfg),
		Metrics:  collector,
	})
	generalCfg := generalRateLimiterConfig(cfg)
	generalCfg.Metrics = collector
	rateLimiter := middleware.NewRateLimiter(generalCfg)
	defer rateLimiter.Stop()

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		RateLimiter:       rateLimiter,
		FeatureLimiter:    featureLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			LoginPath:     cfg.LoginPath,
			RegisterPath:  cfg.RegisterPath,
			DashboardPath: cfg.DashboardPath,
			Cookies: middleware.CookieConfig{
				Domain: cfg.CookieDomain,
				Secure: cfg.CookieSecure,
			},
		},

		UserService: userService,
	}

	router := handler.NewRouter(deps)

	return serveUntilSignal(newHTTPServer(cfg.ServerPort, router), "API server")
}

// newHTTPServer はタイムアウトを設定したhttp.Serverを返す。
func newHTTPServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s listen failed: %w", name, err)
	case <-ctx.Done():
	}
	slog.Info("shutting down "+name, slog.Duration("timeout", shutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションの定期削除を実行する。
// /metrics はSERVER_PORTで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	reg := metrics.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. クリーンアップジョブの初期化
	sweepJob := cleanup.NewSessionSweepJob(db, slog.Default(), collector)
	sweepJob.Grace = cfg.SessionSweepGrace

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SessionSweepInterval),
		slog.Duration("sweep_grace", cfg.SessionSweepGrace),
	)

	// 起動直後に1回実行し、以降は定期実行する
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweepJob.RunEvery(ctx, cfg.SessionSweepInterval)
	}()

	err = serveUntilSignal(newHTTPServer(cfg.ServerPort, metrics.SetupMetricsRoute(reg)), "worker metrics server")

	cancel()
	<-done

	slog.Info("worker stopped gracefully")
	return err
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	result, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed",
		slog.Uint64("version", uint64(result.Version)),
		slog.Bool("changed", result.Changed),
	)
	return nil
}

// runHealthcheck はローカルの/healthを叩き、200以外ならエラーを返す。
// シェルのないdistrolessイメージでDockerのHEALTHCHECKから呼ばれる。
func runHealthcheck(port string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthcheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost:"+port+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health check request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はログ出力用にパスワードを伏せたURLを返す。解析できなければ全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
