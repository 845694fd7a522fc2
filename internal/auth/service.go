// Package auth はウォレット署名によるチャレンジ/レスポンス認証を提供する。
//
// チャレンジ発行（ノンス取得）と検証（オラクルへの消費確認、ユーザーストアの参照・作成）を
// リクエスト単位で行う。リクエスト間で状態は持たない。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/walletauth/internal/metrics"
	"github.com/hitoshi/walletauth/internal/model"
	"github.com/hitoshi/walletauth/internal/oracle"
)

// レスポンスの error フィールドに入るメッセージ。
const (
	MsgNonceFailed            = "Failed to generate nonce"
	MsgAuthenticationFailed   = "Authentication failed"
	MsgCustomValidationFailed = "Custom validation failed"
	MsgVerificationFailed     = "Authentication verification failed"
	MsgStorageFailed          = "Database operation failed"
	MsgInvalidUserData        = "Invalid user data"
)

// NonceBroker はオラクルへの問い合わせを行うインターフェース。
type NonceBroker interface {
	IssueNonce(ctx context.Context, contractID string) (string, error)
	CheckRedemption(ctx context.Context, nonce, contractID string) (oracle.Redemption, error)
}

// UserStore は認証フローが必要とするユーザーストアの操作。
type UserStore interface {
	Find(ctx context.Context, walletAddress string) (*model.User, error)
	Create(ctx context.Context, data model.NewUserData) (*model.User, error)
}

// Sanitizer はユーザー作成前にプロフィール入力を整形する。
type Sanitizer interface {
	NewUserData(d model.NewUserData) model.NewUserData
}

// ValidateFunc は独自の認可ポリシー。falseまたはエラーで認証を拒否する。
type ValidateFunc func(ctx context.Context, walletAddress string) (bool, error)

// NewUserHook はユーザー作成後に呼ばれる。失敗してもログのみで認証結果は変えない。
type NewUserHook func(ctx context.Context, user *model.User) error

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	ContractID       string
	CustomValidation ValidateFunc
	OnNewUser        NewUserHook
	Sanitizer        Sanitizer
	// Tokens が設定されている場合、ユーザーが確定した検証結果にセッショントークンを付与する。
	Tokens  *TokenIssuer
	Metrics metrics.MetricsCollector
}

// Outcome は1回の検証呼び出しの結果分類。
type Outcome string

const (
	OutcomePending       Outcome = "pending"
	OutcomeAuthenticated Outcome = "authenticated"
	OutcomeRejected      Outcome = "rejected"
	OutcomeFailed        Outcome = "failed"
)

// ChallengeResult はIssueChallengeの結果。
type ChallengeResult struct {
	Response model.ChallengeResponse
	Err      error
}

// VerifyResult はVerifyChallengeの結果。
// Errは分類用のエラーで、Responseには含めない。
type VerifyResult struct {
	Outcome  Outcome
	Response model.VerifyResponse
	Err      error
}

// Service は認証プロトコルのハンドラー。
type Service struct {
	broker NonceBroker
	store  UserStore
	logger *slog.Logger
	config ServiceConfig
}

// NewService はServiceを生成する。
func NewService(broker NonceBroker, store UserStore, logger *slog.Logger, config ServiceConfig) *Service {
	if config.Metrics == nil {
		config.Metrics = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		broker: broker,
		store:  store,
		logger: logger,
		config: config,
	}
}

// IssueChallenge はオラクルから新しいノンスを取得する。
// 失敗時は空のノンスと診断メッセージを返す。呼び出し側は空のノンスで再試行してはならない。
func (s *Service) IssueChallenge(ctx context.Context) ChallengeResult {
	start := time.Now()
	nonce, err := s.broker.IssueNonce(ctx, s.config.ContractID)
	s.config.Metrics.RecordOracleLatency("issue_nonce", time.Since(start))

	if err != nil {
		s.config.Metrics.RecordChallengeIssued(false)
		s.logger.Error("failed to issue challenge",
			slog.String("contract_id", s.config.ContractID),
			slog.String("error", err.Error()),
		)
		return ChallengeResult{
			Response: model.ChallengeResponse{Nonce: "", Error: MsgNonceFailed},
			Err:      err,
		}
	}

	s.config.Metrics.RecordChallengeIssued(true)
	return ChallengeResult{Response: model.ChallengeResponse{Nonce: nonce}}
}

// VerifyChallenge はノンスの消費状況を確認し、ユーザーレコードを解決する。
// 未消費の場合は authenticated=false を返す。これはポーリング中の通常の結果。
// ストア操作の失敗は authenticated=true のまま error を付けて返す。
func (s *Service) VerifyChallenge(ctx context.Context, nonce string, newUser *model.NewUserData) VerifyResult {
	res := s.verify(ctx, nonce, newUser)
	s.config.Metrics.RecordVerification(string(res.Outcome))
	return res
}

func (s *Service) verify(ctx context.Context, nonce string, newUser *model.NewUserData) VerifyResult {
	start := time.Now()
	redemption, err := s.broker.CheckRedemption(ctx, nonce, s.config.ContractID)
	s.config.Metrics.RecordOracleLatency("check_redemption", time.Since(start))

	if err != nil {
		s.logger.Error("failed to check redemption",
			slog.String("contract_id", s.config.ContractID),
			slog.String("error", err.Error()),
		)
		return VerifyResult{
			Outcome: OutcomeFailed,
			Response: model.VerifyResponse{
				Error: MsgVerificationFailed,
				Code:  model.ErrCodeOracleUnavailable,
			},
			Err: err,
		}
	}

	if !redemption.Redeemed {
		s.logger.Debug("challenge not redeemed yet")
		return VerifyResult{Outcome: OutcomePending}
	}

	address := redemption.WalletAddress
	if address == "" {
		s.logger.Info("challenge redeemed without wallet address")
		return VerifyResult{
			Outcome: OutcomeRejected,
			Response: model.VerifyResponse{
				Error: MsgAuthenticationFailed,
				Code:  model.ErrCodeAuthenticationFailed,
			},
			Err: model.ErrAuthenticationFailed,
		}
	}

	if s.config.CustomValidation != nil {
		ok, err := s.config.CustomValidation(ctx, address)
		if err != nil || !ok {
			attrs := []any{slog.String("wallet_address", address)}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			s.logger.Warn("custom validation rejected wallet", attrs...)
			return VerifyResult{
				Outcome: OutcomeRejected,
				Response: model.VerifyResponse{
					Error: MsgCustomValidationFailed,
					Code:  model.ErrCodeCustomValidationFailed,
				},
				Err: model.ErrCustomValidationFailed,
			}
		}
	}

	user, err := s.store.Find(ctx, address)
	if err != nil {
		return s.storageFailure(address, "find", err)
	}

	if user == nil && newUser != nil {
		user, err = s.createUser(ctx, address, *newUser)
		if err != nil {
			if errors.Is(err, model.ErrValidation) {
				s.logger.Info("rejected new user data",
					slog.String("wallet_address", address),
					slog.String("error", err.Error()),
				)
				return VerifyResult{
					Outcome: OutcomeAuthenticated,
					Response: model.VerifyResponse{
						Authenticated: true,
						WalletAddress: address,
						Error:         MsgInvalidUserData,
						Code:          model.ErrCodeValidation,
					},
					Err: err,
				}
			}
			return s.storageFailure(address, "create", err)
		}
	}

	resp := model.VerifyResponse{
		Authenticated: true,
		WalletAddress: address,
		User:          user,
	}
	if user != nil && s.config.Tokens != nil {
		token, err := s.config.Tokens.Issue(user)
		if err != nil {
			s.logger.Error("failed to issue session token",
				slog.String("wallet_address", address),
				slog.String("error", err.Error()),
			)
		} else {
			resp.Token = token
		}
	}

	s.logger.Info("wallet authenticated",
		slog.String("wallet_address", address),
		slog.Bool("needs_onboarding", user == nil),
	)
	return VerifyResult{Outcome: OutcomeAuthenticated, Response: resp}
}

// createUser は検証済みアドレスでユーザーを作成する。
// 入力のアドレスは無視し、オラクルが返したアドレスを使う。
func (s *Service) createUser(ctx context.Context, address string, data model.NewUserData) (*model.User, error) {
	if s.config.Sanitizer != nil {
		data = s.config.Sanitizer.NewUserData(data)
	}
	if data.WalletAddress != "" && data.WalletAddress != address {
		s.logger.Warn("new user data address differs from redeemed address",
			slog.String("wallet_address", address),
			slog.String("supplied_address", data.WalletAddress),
		)
	}
	data.WalletAddress = address

	user, err := s.store.Create(ctx, data)
	if errors.Is(err, model.ErrDuplicateKey) {
		// 参照の直後に作成しているため通常は起きない。並行した登録で先に作成されたものを返す
		s.logger.Error("duplicate key on create after lookup",
			slog.String("wallet_address", address),
		)
		existing, findErr := s.store.Find(ctx, address)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, fmt.Errorf("record vanished after duplicate key: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	s.config.Metrics.RecordUserCreated()
	if s.config.OnNewUser != nil {
		if err := s.config.OnNewUser(ctx, user.Clone()); err != nil {
			s.logger.Error("new user hook failed",
				slog.String("wallet_address", address),
				slog.String("error", err.Error()),
			)
		}
	}
	return user, nil
}

// storageFailure はストア障害を「認証は成功、永続化は失敗」として返す。
func (s *Service) storageFailure(address, operation string, err error) VerifyResult {
	s.config.Metrics.RecordStoreError(operation)
	s.logger.Error("user store operation failed",
		slog.String("operation", operation),
		slog.String("wallet_address", address),
		slog.String("error", err.Error()),
	)
	return VerifyResult{
		Outcome: OutcomeAuthenticated,
		Response: model.VerifyResponse{
			Authenticated: true,
			WalletAddress: address,
			Error:         MsgStorageFailed,
			Code:          model.ErrCodeStorageFailed,
		},
		Err: err,
	}
}
