package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/walletauth/internal/middleware"
	"github.com/hitoshi/walletauth/internal/model"
)

// AdminUserStore は管理APIが必要とするストア操作。
type AdminUserStore interface {
	UserFinder
	List(ctx context.Context) ([]*model.User, error)
	Update(ctx context.Context, walletAddress string, patch model.UserPatch) (*model.User, error)
	Delete(ctx context.Context, walletAddress string) (bool, error)
}

// PatchSanitizer は更新内容のプロフィール文字列を整形する。
type PatchSanitizer interface {
	UserPatch(p model.UserPatch) model.UserPatch
}

// AdminHandler はユーザーレコード管理のHTTPハンドラー。
type AdminHandler struct {
	users     AdminUserStore
	sanitizer PatchSanitizer
}

// NewAdminHandler はAdminHandlerを生成する。sanitizer は nil でもよい。
func NewAdminHandler(users AdminUserStore, sanitizer PatchSanitizer) *AdminHandler {
	return &AdminHandler{
		users:     users,
		sanitizer: sanitizer,
	}
}

type userListResponse struct {
	Users []*model.User `json:"users"`
}

// ListUsers は全ユーザーをアドレス順で返す。
// GET /api/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.storeFailure(w, "list", "", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userListResponse{Users: users})
}

// GetUser はアドレスに対応するユーザーを返す。
// GET /api/admin/users/{address}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")

	user, err := h.users.Find(r.Context(), addr)
	if err != nil {
		h.storeFailure(w, "find", addr, err)
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, user)
}

// UpdateUser は指定されたフィールドのみを更新する。
// PATCH /api/admin/users/{address}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")

	var patch model.UserPatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&patch); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if h.sanitizer != nil {
		patch = h.sanitizer.UserPatch(patch)
	}

	user, err := h.users.Update(r.Context(), addr, patch)
	if err != nil {
		h.storeFailure(w, "update", addr, err)
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, user)
}

// DeleteUser はユーザーを削除する。
// DELETE /api/admin/users/{address}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")

	deleted, err := h.users.Delete(r.Context(), addr)
	if err != nil {
		h.storeFailure(w, "delete", addr, err)
		return
	}
	if !deleted {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) storeFailure(w http.ResponseWriter, operation, addr string, err error) {
	slog.Warn("admin store operation failed",
		slog.String("operation", operation),
		slog.String("wallet_address", addr),
		slog.String("error", err.Error()),
	)
	middleware.WriteStoreError(w, err)
}
