package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInternal             = "INTERNAL_ERROR"
	ErrCodeProviderError        = "PROVIDER_ERROR"
	ErrCodeAccountAlreadyExists = "ACCOUNT_ALREADY_EXISTS"
	ErrCodeRegistrationExpired  = "REGISTRATION_EXPIRED"
	ErrCodeInvalidRole          = "INVALID_ROLE"
	ErrCodeUnknownProvider      = "UNKNOWN_PROVIDER"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeCSRFTokenInvalid     = "CSRF_TOKEN_INVALID"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewProviderError は外部IdPとの通信失敗エラーを生成する。
func NewProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderError,
		Message:  fmt.Sprintf("%s との認証処理に失敗しました。", provider),
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewAccountAlreadyExistsError はアカウント重複エラーを生成する。
func NewAccountAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountAlreadyExists,
		Message:  "このアカウントは既に登録されています。",
		Category: "auth",
		Action:   "ログイン画面から再度ログインしてください。",
	}
}

// NewRegistrationExpiredError は登録情報の期限切れまたは改ざん検知エラーを生成する。
func NewRegistrationExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeRegistrationExpired,
		Message:  "登録手続きの有効期限が切れました。",
		Category: "auth",
		Action:   "もう一度ログインからやり直してください。",
	}
}

// NewInvalidRoleError は選択できないロールが指定された場合のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("無効なロールです: %s", role),
		Category: "validation",
		Action:   "caretaker または parent を選択してください。",
	}
}

// NewUnknownProviderError は未対応のIdPが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("未対応の認証プロバイダーです: %s", provider),
		Category: "auth",
		Action:   "ログイン画面に表示されているプロバイダーを選択してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークンが欠落または一致しない場合のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "画面を再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はリクエスト過多エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
