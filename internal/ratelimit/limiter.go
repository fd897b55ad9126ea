// Package ratelimit はクライアント×機能ごとの固定ウィンドウカウンターで、
// 登録完了などの低頻度かつ濫用されやすい操作を制限する。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// 制限対象の機能名。
const (
	FeatureLogin        = "login"
	FeatureRegistration = "registration"
)

// ErrUnknownFeature はポリシー未設定の機能が指定されたことを示す。
var ErrUnknownFeature = errors.New("unknown rate limit feature")

// Policy は機能ごとの制限値。Window内にLimit回まで許可する。
type Policy struct {
	Limit  int
	Window time.Duration
}

// Result はCheckの結果。
type Result struct {
	Exceeded bool
}

// CounterStore はバケットの読み書きを行うカウンターストア。
// Hitは1回の呼び出しで次の規則をアトミックに適用する:
//   - now - windowStart > Window ならカウントを0に戻し、windowStart = now とする。
//   - count >= Limit ならカウントを増やさずexceeded=trueを返す。
//   - それ以外はカウントを1増やしexceeded=falseを返す。
type CounterStore interface {
	Hit(ctx context.Context, key string, policy Policy, now time.Time) (exceeded bool, err error)
}

// Metrics は制限超過の計測インターフェース。
type Metrics interface {
	RecordRateLimitExceeded(feature string)
}

// Config はLimiterの設定。
type Config struct {
	Policies map[string]Policy
	// Metrics はnilの場合は計測を行わない。
	Metrics Metrics
	// Now は現在時刻の取得関数。nilの場合はtime.Nowを使用する。
	Now func() time.Time
}

// Limiter は機能ごとのポリシーに従ってCounterStoreを呼び出す。
// 呼び出し側はストアの実装（インメモリ/Redis）を意識しない。
type Limiter struct {
	store    CounterStore
	policies map[string]Policy
	metrics  Metrics
	now      func() time.Time
}

// NewLimiter はLimiterを生成する。
func NewLimiter(store CounterStore, config Config) *Limiter {
	policies := make(map[string]Policy, len(config.Policies))
	for feature, p := range config.Policies {
		policies[feature] = p
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Limiter{
		store:    store,
		policies: policies,
		metrics:  config.Metrics,
		now:      config.Now,
	}
}

// Check はclientKeyによるfeatureの利用を1回分記録し、制限を超えたかどうかを返す。
// ストアの障害はエラーとして返す（許可・拒否の判断は呼び出し側が行う）。
func (l *Limiter) Check(ctx context.Context, clientKey, feature string) (Result, error) {
	policy, ok := l.policies[feature]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}

	exceeded, err := l.store.Hit(ctx, bucketKey(feature, clientKey), policy, l.now())
	if err != nil {
		return Result{}, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if exceeded {
		slog.Warn("rate limit exceeded",
			slog.String("feature", feature),
			slog.String("client", clientKey),
		)
		if l.metrics != nil {
			l.metrics.RecordRateLimitExceeded(feature)
		}
	}
	return Result{Exceeded: exceeded}, nil
}

// bucketKey はバケットのキーを組み立てる。
func bucketKey(feature, clientKey string) string {
	return feature + ":" + clientKey
}
