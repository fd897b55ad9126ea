package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/hitoshi/allergyboard/internal/ratelimit"
)

// FeatureChecker は機能単位のレート制限判定に必要なインターフェース。
// ratelimit.Limiterが実装する。
type FeatureChecker interface {
	Check(ctx context.Context, clientKey, feature string) (ratelimit.Result, error)
}

// NewFeatureLimitMiddleware はクライアントIPと機能名の組でリクエストを制限するミドルウェアを返す。
// 超過時はredirectPathへ ?rate_limited=<feature> を付けて303でリダイレクトする。
// カウンタストアの障害時は制限せずに通過させる。
// クライアントIPはRemoteAddrから取得する。転送ヘッダーは信頼できるプロキシ構成でRealIPが
// RemoteAddrへ反映した場合にのみ効く。
func NewFeatureLimitMiddleware(checker FeatureChecker, feature, redirectPath string) func(next http.Handler) http.Handler {
	target := redirectPath + "?" + url.Values{"rate_limited": {feature}}.Encode()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := checker.Check(r.Context(), ClientIP(r), feature)
			if err != nil {
				slog.Error("failed to check rate limit",
					slog.String("feature", feature),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if result.Exceeded {
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP はリクエストのクライアントIPを返す。
// RemoteAddrにポートが含まれない場合はそのまま返す。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
