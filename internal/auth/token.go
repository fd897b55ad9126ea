package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

// tokenBytes はベアラートークンのエントロピー（160bit）。
const tokenBytes = 20

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateToken は160bitの暗号学的乱数から、Cookieにそのまま載せられる
// 小文字base32（パディングなし、32文字）のベアラートークンを生成する。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return strings.ToLower(tokenEncoding.EncodeToString(b)), nil
}

// SessionID はトークンのSHA-256ダイジェストを小文字hexで返す。
// 永続化されるのはこの値のみで、トークン自体は保存しない。
func SessionID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
