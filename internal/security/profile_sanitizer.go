// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer は外部IdPから受け取ったプロフィール文字列を無害化する。
// 表示名などにマークアップが含まれていても、bluemondayのStrictPolicyで
// 全タグを除去したプレーンテキストとして保存する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxProfileFieldLength はプロフィール文字列の最大文字数（rune数）。
const maxProfileFieldLength = 200

// ProfileSanitizer はプロフィール文字列とプロフィール画像URLのサニタイズを行う。
// bluemondayのポリシーはスレッドセーフなため、1インスタンスを共有してよい。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text はタグを全て除去し、前後の空白を取り除いたプレーンテキストを返す。
// StrictPolicyがエスケープした文字実体は元に戻す（出力時にテンプレート側でエスケープする）。
func (s *ProfileSanitizer) Text(raw string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if r := []rune(cleaned); len(r) > maxProfileFieldLength {
		cleaned = string(r[:maxProfileFieldLength])
	}
	return cleaned
}

// PhotoURL はhttpsの絶対URLのみを返す。それ以外は空文字列を返す。
func (s *ProfileSanitizer) PhotoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" || u.User != nil {
		return ""
	}
	return u.String()
}
