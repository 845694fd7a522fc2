package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/hitoshi/walletauth/internal/model"
)

const (
	authPath        = "/api/auth"
	maxResponseSize = 64 << 10
)

// HTTPAPI は認証サーバーのHTTPエンドポイントを呼び出す API 実装。
// 通信エラーやJSONとして読めない応答は ErrOracleUnavailable と同等に扱う。
type HTTPAPI struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewHTTPAPI はHTTPAPIを生成する。baseURLの末尾のスラッシュは取り除く。
func NewHTTPAPI(httpClient *http.Client, logger *slog.Logger, baseURL string) *HTTPAPI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAPI{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// IssueChallenge は GET /api/auth を呼び出す。
// サーバーが発行失敗を返した場合も応答本文をそのまま返す（Nonce は空）。
func (a *HTTPAPI) IssueChallenge(ctx context.Context) (model.ChallengeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+authPath, nil)
	if err != nil {
		return model.ChallengeResponse{}, fmt.Errorf("%w: build request: %w", model.ErrOracleUnavailable, err)
	}

	var out model.ChallengeResponse
	if err := a.do(req, &out, http.StatusOK, http.StatusInternalServerError); err != nil {
		return model.ChallengeResponse{}, err
	}
	return out, nil
}

// VerifyChallenge は POST /api/auth を呼び出す。
// 401/403/500 も結果として本文を返す。それ以外の非2xxはエラーになる。
func (a *HTTPAPI) VerifyChallenge(ctx context.Context, nonce string, data *model.NewUserData) (model.VerifyResponse, error) {
	body, err := json.Marshal(model.VerifyRequest{Nonce: nonce, NewUserData: data})
	if err != nil {
		return model.VerifyResponse{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+authPath, bytes.NewReader(body))
	if err != nil {
		return model.VerifyResponse{}, fmt.Errorf("%w: build request: %w", model.ErrOracleUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out model.VerifyResponse
	if err := a.do(req, &out,
		http.StatusOK, http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError,
	); err != nil {
		return model.VerifyResponse{}, err
	}
	return out, nil
}

// errorBody は統一エラーフォーマットの応答本文。
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *HTTPAPI) do(req *http.Request, out any, accepted ...int) error {
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Debug("auth request failed",
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", model.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", model.ErrOracleUnavailable, err)
	}

	if !slices.Contains(accepted, resp.StatusCode) {
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Code != "" {
			return &ResponseError{Code: eb.Code, Message: eb.Message}
		}
		return fmt.Errorf("%w: unexpected status %d", model.ErrOracleUnavailable, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: status %d with undecodable body: %w", model.ErrOracleUnavailable, resp.StatusCode, err)
	}
	return nil
}
