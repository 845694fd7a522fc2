// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/walletauth/internal/auth"
	"github.com/hitoshi/walletauth/internal/model"
)

const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// walletAddressContextKey はリクエストコンテキストに認証済みウォレットアドレスを格納するためのキー。
var walletAddressContextKey = contextKey("wallet_address")

// TokenParser はセッショントークンの検証に必要なインターフェース。
// auth.TokenIssuer の部分集合として定義する。
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// NewSessionMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済みウォレットアドレスをリクエストコンテキストに注入する。
// トークンが無い、または無効なリクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(parser TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := parser.Parse(token)
			if err != nil {
				slog.Debug("rejected session token",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			annotateWalletAddress(r.Context(), claims.WalletAddress)
			ctx := ContextWithWalletAddress(r.Context(), claims.WalletAddress)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WalletAddressFromContext はリクエストコンテキストからウォレットアドレスを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func WalletAddressFromContext(ctx context.Context) (string, error) {
	addr, ok := ctx.Value(walletAddressContextKey).(string)
	if !ok || addr == "" {
		return "", fmt.Errorf("wallet address not found in context")
	}
	return addr, nil
}

// ContextWithWalletAddress はコンテキストにウォレットアドレスを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithWalletAddress(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, walletAddressContextKey, addr)
}
