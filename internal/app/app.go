package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/walletauth/internal/config"
	"github.com/hitoshi/walletauth/internal/database"
	"github.com/hitoshi/walletauth/internal/logger"
	"github.com/hitoshi/walletauth/internal/store"
)

// Init はサーバー起動用の初期化を行う。
// .envを読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .env の読み込みとログの初期化（設定読み込み前にログを使えるようにする）
	config.LoadDotEnv()
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。wにはログを書き出す。
func Run(w io.Writer, args []string) error {
	return run(os.Stdin, os.Stdout, w, args)
}

func run(stdin io.Reader, stdout, logw io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck と keygen は軽量サブコマンドのため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandKeygen:
		return runKeygen(stdout)
	case CommandLogin:
		config.LoadDotEnv()
		cfg, err := config.LoadClient()
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		log := logger.SetupDefault(logw, logger.ParseLevel(cfg.LogLevel))
		return runLogin(cfg, stdin, stdout, log)
	case CommandMigrate:
		config.LoadDotEnv()
		logger.SetupDefault(logw, logger.ParseLevel(os.Getenv("LOG_LEVEL")))
		cfg, err := config.LoadMigrate()
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runMigrate(cfg, slog.Default())
	}

	cfg, err := Init(logw)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("store_backend", cfg.StoreBackend),
	)

	return runServe(cfg, slog.Default())
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
// SIGINT/SIGTERM を受けた場合は実行中のマイグレーションの完了後に止まる。
func runMigrate(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runKeygen は DB_ENCRYPTION_KEY に使える鍵を標準出力に書き出す。
func runKeygen(w io.Writer) error {
	key, err := store.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	_, err = fmt.Fprintln(w, key)
	return err
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
