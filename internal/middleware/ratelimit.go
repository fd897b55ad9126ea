package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/allergyboard/internal/model"
	"github.com/hitoshi/allergyboard/internal/ratelimit"
)

// generalFeature は/api全般の制限をメトリクス上で区別するためのラベル。
const generalFeature = "general"

// RateLimiterConfig は/api全般に掛けるユーザー単位トークンバケットの設定。
type RateLimiterConfig struct {
	GeneralRate  rate.Limit // req/sec
	GeneralBurst int
	// CleanupInterval ごとに、2周期以上アクセスのないユーザーのバケットを破棄する。0以下なら破棄しない。
	CleanupInterval time.Duration

	// Metrics はnilでもよい。
	Metrics ratelimit.Metrics
	// Now はnilの場合time.Now。
	Now func() time.Time
}

// DefaultRateLimiterConfig は 120 req/min/user の設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0),
		GeneralBurst:    120,
		CleanupInterval: 5 * time.Minute,
	}
}

type userBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は認証済みAPIのユーザー単位の制限を行う。プロセス内で完結し、インスタンス間で共有しない。
// ログインや登録完了はratelimit.Limiterで別に制限する。
type RateLimiter struct {
	config RateLimiterConfig
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*userBucket

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter はRateLimiterを生成し、CleanupIntervalが正ならバケットの破棄ループを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	rl := &RateLimiter{
		config:  config,
		now:     now,
		buckets: make(map[string]*userBucket),
		stopCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Stop は破棄ループを止める。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はユーザー単位の制限ミドルウェアを返す。SessionMiddlewareの内側に置く。
// 超過時は429とRetry-After（次のトークンまでの秒数、切り上げ）を返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteAPIError(w, model.NewUnauthorizedError())
				return
			}

			if wait, ok := rl.take(userID); !ok {
				if rl.config.Metrics != nil {
					rl.config.Metrics.RecordRateLimitExceeded(generalFeature)
				}
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("feature", generalFeature),
					slog.Duration("retry_after", wait),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				WriteAPIError(w, model.NewRateLimitExceededError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は保持しているバケット数を返す。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// take はユーザーのバケットから1トークン取り出す。
// 取り出せない場合は予約を取り消し、次のトークンまでの待ち時間を返す。
func (rl *RateLimiter) take(userID string) (time.Duration, bool) {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[userID]
	if !ok {
		b = &userBucket{limiter: rate.NewLimiter(rl.config.GeneralRate, rl.config.GeneralBurst)}
		rl.buckets[userID] = b
	}
	b.lastAccess = now
	rl.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	cutoff := rl.now().Add(-2 * rl.config.CleanupInterval)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for userID, b := range rl.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(rl.buckets, userID)
		}
	}
}

func retryAfterSeconds(wait time.Duration) int {
	sec := int(math.Ceil(wait.Seconds()))
	if sec < 1 {
		return 1
	}
	return sec
}
