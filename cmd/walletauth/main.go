// Command walletauth はウォレット署名によるチャレンジ/レスポンス認証のサーバーとCLI。
//
//	walletauth [serve|login|migrate|keygen|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/walletauth/internal/app"
)

func main() {
	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "walletauth: %v\n", err)
		os.Exit(1)
	}
}
