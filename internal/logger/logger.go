// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted は秘匿属性の値の置き換え先。
const Redacted = "[REDACTED]"

// level は全ロガーで共有するログレベル。設定読み込み後にSetLevelで変更する。
var level = new(slog.LevelVar)

// sensitiveKeys の属性はグループ内にあっても値を出力しない。
// セッショントークンやIdPの認可コードがログから漏れると、そのままなりすましに使える。
var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"session_token": {},
	"access_token":  {},
	"refresh_token": {},
	"code":          {},
	"code_verifier": {},
	"state":         {},
	"client_secret": {},
	"secret":        {},
	"cookie":        {},
	"authorization": {},
}

// Setup はJSON出力のslog.Loggerを生成する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSensitive,
	})
	return slog.New(handler).With(slog.String("service", "allergyboard"))
}

// SetupDefault はSetupのロガーをslogのデフォルトにする。wがnilならos.Stdout。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

// SetLevel はLOG_LEVEL（debug, info, warn, error）を反映する。未知の値はinfo。
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactSensitive(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}
