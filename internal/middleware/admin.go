package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/hitoshi/walletauth/internal/model"
)

// AdminKeyHeader は管理APIのキーを渡すヘッダー名。
const AdminKeyHeader = "X-Admin-Key"

// NewAdminKeyMiddleware はX-Admin-Keyヘッダーが設定値と一致するリクエストのみ通すミドルウェアを返す。
// 比較は定数時間で行う。
func NewAdminKeyMiddleware(adminKey string) func(next http.Handler) http.Handler {
	expected := []byte(adminKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(AdminKeyHeader))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				slog.Warn("admin key rejected",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
