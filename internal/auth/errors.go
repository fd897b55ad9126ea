package auth

import (
	"errors"
	"fmt"
)

// プロトコルエラー: ログインフローを最初からやり直させる。
var (
	ErrUnknownProvider     = errors.New("unknown oauth provider")
	ErrStateMismatch       = errors.New("oauth state mismatch")
	ErrMissingCodeVerifier = errors.New("pkce code verifier is missing")
	ErrMissingCode         = errors.New("authorization code is missing")
	ErrInvalidCode         = errors.New("authorization code was rejected by provider")
)

// ErrPendingRegistrationInvalid は登録待ちCookieが存在しない、改ざんされている、
// 期限切れ、または使用済みであることを示す。いずれも「存在しない」として扱う。
var ErrPendingRegistrationInvalid = errors.New("pending registration is missing or invalid")

// ErrAccountAlreadyExists は同じ外部アカウントが既に登録済みであることを示す。
var ErrAccountAlreadyExists = errors.New("account already exists")

// ErrInvalidRole は登録フォームで選択できないロールが指定されたことを示す。
var ErrInvalidRole = errors.New("invalid role")

// IsProtocolError はエラーがログインフローの再開で回復できるものかどうかを返す。
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrStateMismatch) ||
		errors.Is(err, ErrMissingCodeVerifier) ||
		errors.Is(err, ErrMissingCode) ||
		errors.Is(err, ErrInvalidCode)
}

// ProviderError はIdP APIの呼び出し失敗を表す。
// プロトコルエラーとは異なり、呼び出し元には内部エラーとして通知する。
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
