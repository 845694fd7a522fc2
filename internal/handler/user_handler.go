package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/walletauth/internal/middleware"
	"github.com/hitoshi/walletauth/internal/model"
)

// UserFinder はユーザーハンドラーが必要とするストア操作。
type UserFinder interface {
	Find(ctx context.Context, walletAddress string) (*model.User, error)
}

// UserHandler はセッション保持者自身のユーザー情報を返すハンドラー。
type UserHandler struct {
	users UserFinder
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users UserFinder) *UserHandler {
	return &UserHandler{users: users}
}

// Me はセッションのウォレットアドレスに対応するユーザーを返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	addr, err := middleware.WalletAddressFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.users.Find(r.Context(), addr)
	if err != nil {
		slog.Error("failed to find current user",
			slog.String("wallet_address", addr),
			slog.String("error", err.Error()),
		)
		middleware.WriteStoreError(w, err)
		return
	}
	// トークン発行後にレコードが削除された場合
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, user)
}
