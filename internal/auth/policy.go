package auth

import (
	"context"
	"strings"
)

// AllowList は列挙されたウォレットアドレスだけを許可する ValidateFunc を返す。
// アドレスは前後の空白のみ取り除いて比較する。空の場合は nil を返し、ポリシーを適用しない。
func AllowList(addrs []string) ValidateFunc {
	allowed := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			allowed[a] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return func(_ context.Context, walletAddress string) (bool, error) {
		_, ok := allowed[strings.TrimSpace(walletAddress)]
		return ok, nil
	}
}
