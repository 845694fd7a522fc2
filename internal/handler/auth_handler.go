// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/walletauth/internal/auth"
	"github.com/hitoshi/walletauth/internal/middleware"
	"github.com/hitoshi/walletauth/internal/model"
)

// maxRequestBodySize は検証リクエストとして受け付ける最大バイト数。
const maxRequestBodySize = 64 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	IssueChallenge(ctx context.Context) auth.ChallengeResult
	VerifyChallenge(ctx context.Context, nonce string, newUser *model.NewUserData) auth.VerifyResult
}

// AuthHandler はチャレンジ/レスポンス認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// IssueChallenge は新しいノンスを発行する。
// GET /api/auth
func (h *AuthHandler) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	res := h.service.IssueChallenge(r.Context())
	if res.Err != nil {
		middleware.WriteJSON(w, http.StatusInternalServerError, res.Response)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res.Response)
}

// VerifyChallenge はノンスの消費を確認し、ユーザーを解決する。
// POST /api/auth
func (h *AuthHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	nonce := strings.TrimSpace(req.Nonce)
	if nonce == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("nonce は必須です"))
		return
	}

	res := h.service.VerifyChallenge(r.Context(), nonce, req.NewUserData)
	middleware.WriteJSON(w, verifyStatus(res), res.Response)
}

// verifyStatus は検証結果をHTTPステータスに対応させる。
// 未消費のノンスとストア障害はどちらも200で返す。
func verifyStatus(res auth.VerifyResult) int {
	switch res.Outcome {
	case auth.OutcomeRejected:
		if errors.Is(res.Err, model.ErrCustomValidationFailed) {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case auth.OutcomeFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
