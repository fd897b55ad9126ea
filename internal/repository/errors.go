package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicateLink は同じ (provider, external_id) の紐付けが既に存在することを示す。
	ErrDuplicateLink = errors.New("oauth account link already exists")

	// ErrUserNotFound は削除対象のユーザーが存在しないことを示す。
	ErrUserNotFound = errors.New("user not found")
)

// pgUniqueViolation はPostgreSQLの一意制約違反を表すSQLSTATE。
const pgUniqueViolation = "23505"

// isUniqueViolation はエラーがPostgreSQLの一意制約違反かどうかを判定する。
// constraintが空でない場合は制約名も一致する必要がある。
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
