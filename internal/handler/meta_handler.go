package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/walletauth/internal/middleware"
	"github.com/hitoshi/walletauth/internal/model"
)

// HealthChecker はヘルスチェック対象のインターフェース。
type HealthChecker interface {
	Ping() error
}

type healthResponse struct {
	Status string `json:"status"`
}

// NewHealthHandler はストアの状態を返すハンドラーを生成する。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.Ping(); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// NewRolesHandler は登録可能なロールの一覧を返すハンドラーを生成する。
// GET /api/roles
func NewRolesHandler(roles *model.RoleSet) http.HandlerFunc {
	resp := model.RolesResponse{
		Roles:       roles.Roles(),
		DefaultRole: roles.Default(),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, resp)
	}
}
