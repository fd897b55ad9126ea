// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Role はユーザーの利用区分を表す。
// 登録直後は未選択（空文字列）の場合がある。
type Role string

const (
	RoleUnset     Role = ""
	RoleCaretaker Role = "caretaker"
	RoleParent    Role = "parent"
	RoleAdmin     Role = "admin"
)

// ParseRole は文字列をRoleに変換する。未知の値はエラーを返す。
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUnset, RoleCaretaker, RoleParent, RoleAdmin:
		return r, nil
	default:
		return RoleUnset, fmt.Errorf("unknown role: %q", s)
	}
}

// SelfAssignable は登録フォームから本人が選択できるロールかどうかを返す。
func (r Role) SelfAssignable() bool {
	return r == RoleUnset || r == RoleCaretaker || r == RoleParent
}

// User はダッシュボードの利用者を表す。
// 登録完了時に1回だけ作成される。
type User struct {
	ID        string
	Name      string
	Phone     string
	PhotoURL  string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OAuthAccountLink は外部IdPのアカウントとローカルユーザーの紐付けを表す。
// (Provider, ExternalID) ごとに1回だけ作成され、以降はトークンのみ更新される。
type OAuthAccountLink struct {
	Provider     string
	ExternalID   string
	UserID       string
	AccessToken  string
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// IDはベアラートークンのSHA-256ダイジェストであり、トークン自体は保存しない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PendingRegistrationProfile は未紐付けの外部アカウント情報を表す。
// 暗号化されたCookieとしてのみ存在し、永続化されない。
type PendingRegistrationProfile struct {
	Provider     string `json:"provider"`
	ExternalID   string `json:"external_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email"`
	Photo        string `json:"photo,omitempty"`
	Role         Role   `json:"role,omitempty"`
}
