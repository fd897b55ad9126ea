package app

import (
	"fmt"
	"sort"
	"strings"
)

// Command はアプリケーションの起動モード。
type Command string

const (
	CommandServe   Command = "serve"
	CommandWorker  Command = "worker"
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決める。引数がなければserve。
// 未知のサブコマンドは誤ってAPIを起動しないようエラーにする。2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return "", fmt.Errorf("unknown command %q (available: %s)", args[0], availableCommands())
	}
	return cmd, nil
}

// NeedsConfig はコマンドが環境変数からの設定読み込みを必要とするかを返す。
func (c Command) NeedsConfig() bool {
	return c != CommandHealthcheck
}

func availableCommands() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
