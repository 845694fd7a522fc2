package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/walletauth/internal/auth"
	"github.com/hitoshi/walletauth/internal/config"
	"github.com/hitoshi/walletauth/internal/database"
	"github.com/hitoshi/walletauth/internal/handler"
	"github.com/hitoshi/walletauth/internal/metrics"
	"github.com/hitoshi/walletauth/internal/middleware"
	"github.com/hitoshi/walletauth/internal/model"
	"github.com/hitoshi/walletauth/internal/oracle"
	"github.com/hitoshi/walletauth/internal/security"
	"github.com/hitoshi/walletauth/internal/store"
)

// server はHTTPハンドラーと停止が必要な付随リソースの組。
type server struct {
	handler http.Handler
	limiter *middleware.RateLimiter
}

// close はレート制限のクリーンアップgoroutineを止める。
func (s *server) close() {
	s.limiter.Stop()
}

// newServer は初期化済みのストアとオラクルクライアントから全依存関係をワイヤリングする。
func newServer(cfg *config.Config, st *store.Store, roles *model.RoleSet, broker auth.NonceBroker, reg *prometheus.Registry, logger *slog.Logger) (*server, error) {
	collector := metrics.NewCollector(reg)
	sanitizer := security.NewProfileSanitizer()

	var tokens *auth.TokenIssuer
	if cfg.SessionSecret != "" {
		var err error
		tokens, err = auth.NewTokenIssuer(cfg.SessionSecret, cfg.SessionMaxAge)
		if err != nil {
			return nil, fmt.Errorf("failed to create token issuer: %w", err)
		}
	}

	authService := auth.NewService(broker, st, logger, auth.ServiceConfig{
		ContractID:       cfg.ContractID,
		CustomValidation: auth.AllowList(cfg.AllowedWallets),
		Sanitizer:        sanitizer,
		Tokens:           tokens,
		Metrics:          collector,
		OnNewUser: func(ctx context.Context, user *model.User) error {
			logger.Info("user onboarded",
				slog.String("wallet_address", user.WalletAddress),
				slog.String("account_type", string(user.AccountType())),
				slog.String("role", user.Role),
			)
			return nil
		},
	})

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAuthPerMin))

	deps := &handler.RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     st,

		AuthService: authService,
		Roles:       roles,

		Users:       st,
		Sanitizer:   sanitizer,
		AdminAPIKey: cfg.AdminAPIKey,
	}
	// nilポインタをインターフェースに入れないよう、設定時のみ代入する
	if tokens != nil {
		deps.TokenParser = tokens
	}

	return &server{
		handler: handler.NewRouter(deps),
		limiter: limiter,
	}, nil
}

// openMedium はSTORE_BACKENDに応じたMediumを開く。
// 返す cleanup はMediumが所有しない接続を閉じる。
func openMedium(ctx context.Context, cfg *config.Config) (store.Medium, func() error, error) {
	noop := func() error { return nil }

	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Ping(ctx, db, 5*time.Second); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("database connection established")
		return store.NewPostgresMedium(db, cfg.StoreContainer), db.Close, nil
	case config.StoreBackendRedis:
		m, err := store.OpenRedisMedium(cfg.RedisURL, cfg.StoreContainer)
		if err != nil {
			return nil, nil, err
		}
		return m, noop, nil
	default:
		return store.NewFileMedium(cfg.StorePath), noop, nil
	}
}

// runServe は認証APIサーバーモードで起動する。
// ストアを開いて復号し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. ロールとストア
	roles, err := model.ParseRoleSet(cfg.UserRoles, cfg.DefaultRole)
	if err != nil {
		return fmt.Errorf("invalid role configuration: %w", err)
	}

	medium, cleanup, err := openMedium(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store medium: %w", err)
	}
	defer cleanup()

	st := store.Shared(store.Options{
		Medium:        medium,
		EncryptionKey: cfg.EncryptionKey,
		Container:     cfg.StoreContainer,
		Roles:         roles,
		Logger:        logger,
	})
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", slog.String("error", err.Error()))
		}
	}()

	if err := st.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	logger.Info("user store initialized", slog.String("backend", cfg.StoreBackend))

	// 2. オラクルクライアント（SSRF対策済みのHTTPクライアント）
	httpClient, err := security.NewOracleHTTPClient(cfg.OracleAPIURL, cfg.OracleTimeout, cfg.OracleAllowPrivate)
	if err != nil {
		return fmt.Errorf("invalid oracle endpoint: %w", err)
	}
	broker := oracle.NewClient(httpClient, logger, cfg.OracleAPIURL, cfg.OracleAPIKey)

	// 3. メトリクスとルーター
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := newServer(cfg, st, roles, broker, reg, logger)
	if err != nil {
		return err
	}
	defer srv.close()

	// 4. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second + cfg.OracleTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("API server stopped gracefully")
	return nil
}
