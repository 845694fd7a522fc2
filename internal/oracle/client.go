// Package oracle は台帳コントラクトのオラクルAPIとの連携を提供する。
// ノンスの発行と、ノンスが署名済みトランザクションで消費されたかの確認を行う。
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/walletauth/internal/model"
)

const (
	actionGenerateNonce        = "generateNonce"
	actionVerifyAuthentication = "verifyAuthentication"
	apiKeyHeader               = "X-API-Key"
	// maxResponseSize はオラクルのレスポンスとして受け付ける最大バイト数。
	maxResponseSize = 64 << 10
)

// Redemption はノンスの消費状況を表す。
// Redeemed が false の場合は「まだ署名されていない」通常の結果。
type Redemption struct {
	Redeemed      bool
	WalletAddress string
}

// Client はオラクルAPIのクライアント。リトライは行わない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	apiKey     string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

type nonceResponse struct {
	Nonce string `json:"nonce"`
}

type verifyRequest struct {
	Action     string `json:"action"`
	ContractID string `json:"contractId"`
	Nonce      string `json:"nonce"`
}

type verifyResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserAddress   string `json:"userAddress"`
}

// IssueNonce はコントラクトIDに対する新しいノンスを発行する。
// 通信エラー、2xx以外のステータス、空のノンスは ErrOracleUnavailable として返す。
func (c *Client) IssueNonce(ctx context.Context, contractID string) (string, error) {
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: invalid endpoint: %w", model.ErrOracleUnavailable, err)
	}
	q := reqURL.Query()
	q.Set("action", actionGenerateNonce)
	q.Set("contractId", contractID)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", model.ErrOracleUnavailable, err)
	}

	var out nonceResponse
	if err := c.do(req, actionGenerateNonce, &out); err != nil {
		return "", err
	}
	if out.Nonce == "" {
		c.logger.Error("オラクルが空のノンスを返しました", slog.String("contract_id", contractID))
		return "", fmt.Errorf("%w: empty nonce", model.ErrOracleUnavailable)
	}
	return out.Nonce, nil
}

// CheckRedemption はノンスが消費済みかどうかを問い合わせる。
// 結果はキャッシュせず、呼び出しごとにオラクルに問い合わせる。
func (c *Client) CheckRedemption(ctx context.Context, nonce, contractID string) (Redemption, error) {
	body, err := json.Marshal(verifyRequest{
		Action:     actionVerifyAuthentication,
		ContractID: contractID,
		Nonce:      nonce,
	})
	if err != nil {
		return Redemption{}, fmt.Errorf("%w: encode request: %w", model.ErrOracleUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Redemption{}, fmt.Errorf("%w: build request: %w", model.ErrOracleUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out verifyResponse
	if err := c.do(req, actionVerifyAuthentication, &out); err != nil {
		return Redemption{}, err
	}
	return Redemption{Redeemed: out.Authenticated, WalletAddress: out.UserAddress}, nil
}

// do はリクエストを1回だけ送信し、JSONレスポンスをoutにデコードする。
func (c *Client) do(req *http.Request, action string, out any) error {
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "walletauth/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("オラクルAPIの呼び出しに失敗しました",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", model.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("オラクルAPIがエラーステータスを返しました",
			slog.String("action", action),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", model.ErrOracleUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Error("オラクルAPIのレスポンス読み取りに失敗しました",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: read body: %w", model.ErrOracleUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("オラクルAPIのレスポンスのパースに失敗しました",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: decode body: %w", model.ErrOracleUnavailable, err)
	}
	return nil
}
