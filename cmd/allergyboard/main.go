// Command allergyboard はアレルギー情報ダッシュボードのAPIサーバー、ワーカー、
// マイグレーションを1つのバイナリで提供する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/allergyboard/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
