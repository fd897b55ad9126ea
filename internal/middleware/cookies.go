package middleware

import (
	"net/http"
	"time"
)

const (
	// SessionCookieName はセッショントークンを保持するCookieの名前。
	SessionCookieName = "session"
	// OAuthStateCookieName はOAuthのstateを保持するCookieの名前。
	OAuthStateCookieName = "oauth_state"
	// CodeVerifierCookieName はPKCEのcode_verifierを保持するCookieの名前。
	CodeVerifierCookieName = "code_verifier"
	// PendingRegistrationCookieName は登録待ちプロフィールを保持するCookieの名前。
	PendingRegistrationCookieName = "pending_registration"
)

// CookieConfig はCookie発行時の共通属性。
type CookieConfig struct {
	Domain string
	Secure bool
}

// SetCookie はHttpOnly・SameSite=LaxのCookieを設定する。
// maxAgeは秒単位に切り捨て、1秒未満の場合は1秒とする。
func SetCookie(w http.ResponseWriter, config CookieConfig, name, value string, maxAge time.Duration) {
	seconds := int(maxAge / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   seconds,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie はCookieを削除する（MaxAge=-1）。
func ClearCookie(w http.ResponseWriter, config CookieConfig, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CookieValue はCookieの値を返す。存在しない場合は空文字列を返す。
func CookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
