package repository

import (
	"strings"

	"github.com/hitoshi/allergyboard/internal/model"
)

// userColumns はusersテーブルから読み出す列。userScan.destの並びと一致させる。
var userColumns = []string{"id", "name", "phone", "photo_url", "email", "role", "created_at", "updated_at"}

// selectUserColumns はテーブル別名付きのSELECT列リストを返す。aliasが空なら別名なし。
func selectUserColumns(alias string) string {
	if alias == "" {
		return strings.Join(userColumns, ", ")
	}
	cols := make([]string, len(userColumns))
	for i, c := range userColumns {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// userScan はusers行の読み出し先。roleは文字列で受けてからmodel.Roleへ変換する。
type userScan struct {
	user model.User
	role string
}

func (s *userScan) dest() []any {
	u := &s.user
	return []any{&u.ID, &u.Name, &u.Phone, &u.PhotoURL, &u.Email, &s.role, &u.CreatedAt, &u.UpdatedAt}
}

func (s *userScan) result() *model.User {
	s.user.Role = model.Role(s.role)
	return &s.user
}
