package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Oracle
	OracleAPIURL       string
	OracleAPIKey       string
	ContractID         string
	OracleTimeout      time.Duration
	OracleAllowPrivate bool

	// AllowedWallets が空でない場合、列挙されたウォレットだけが認証できる
	AllowedWallets []string

	// Store
	EncryptionKey  string
	StoreBackend   string
	StorePath      string
	StoreContainer string
	DatabaseURL    string
	RedisURL       string

	// Roles
	UserRoles   string
	DefaultRole string

	// Client
	PollInterval       time.Duration
	AuthTimeout        time.Duration
	ReceiverAddress    string
	TokenID            string
	MobileWalletScheme string
	EnableMobileWallet bool

	// Session
	SessionSecret string
	SessionMaxAge time.Duration

	// Admin
	AdminAPIKey string

	// Rate Limit
	RateLimitAuthPerMin int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// 対応するストアのバックエンド
const (
	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
)

// LoadDotEnv は .env.local と .env を読み込む。ファイルが無くてもエラーにしない。
// 既にプロセスに設定されている環境変数は上書きしない。
func LoadDotEnv() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

// Load はサーバー起動用のConfigを環境変数から読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := load()

	var missing []string
	if cfg.OracleAPIURL == "" {
		missing = append(missing, "CAPLIB_API_URL")
	}
	if cfg.OracleAPIKey == "" {
		missing = append(missing, "CAPLIB_API_KEY")
	}
	if cfg.ContractID == "" {
		missing = append(missing, "AUTH_CONTRACT_ID")
	}
	if cfg.EncryptionKey == "" {
		missing = append(missing, "DB_ENCRYPTION_KEY")
	}
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreBackendRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case StoreBackendFile:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %q", cfg.StoreBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return cfg, nil
}

// LoadClient はloginコマンド用のConfigを読み込む。
// サーバー側の秘密情報は要求しない。
func LoadClient() (*Config, error) {
	cfg := load()

	var missing []string
	if cfg.ContractID == "" {
		missing = append(missing, "AUTH_CONTRACT_ID")
	}
	if cfg.ReceiverAddress == "" {
		missing = append(missing, "SERVER_WALLET_ADDRESS")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return cfg, nil
}

// LoadMigrate はmigrateコマンド用のConfigを読み込む。DATABASE_URL のみを要求する。
func LoadMigrate() (*Config, error) {
	cfg := load()
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}
	return cfg, nil
}

func load() *Config {
	cfg := &Config{}

	cfg.OracleAPIURL = os.Getenv("CAPLIB_API_URL")
	cfg.OracleAPIKey = os.Getenv("CAPLIB_API_KEY")
	cfg.ContractID = getEnvFirst("AUTH_CONTRACT_ID", "NEXT_PUBLIC_AUTH_CONTRACT_ID")
	cfg.OracleTimeout = getEnvDuration("ORACLE_TIMEOUT", 10*time.Second)
	cfg.OracleAllowPrivate = getEnvBool("ORACLE_ALLOW_PRIVATE", false)
	cfg.AllowedWallets = getEnvList("AUTH_ALLOWED_WALLETS")

	cfg.EncryptionKey = os.Getenv("DB_ENCRYPTION_KEY")
	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StoreBackendFile))
	cfg.StorePath = getEnvString("DB_PATH", "data/users.enc")
	cfg.StoreContainer = getEnvString("STORE_CONTAINER", "users")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.UserRoles = getEnvString("USER_ROLES", "User,Administrator")
	cfg.DefaultRole = getEnvString("DEFAULT_USER_ROLE", "User")

	cfg.PollInterval = getEnvDuration("AUTH_POLL_INTERVAL", 3*time.Second)
	cfg.AuthTimeout = getEnvDuration("AUTH_TIMEOUT", 5*time.Minute)
	cfg.ReceiverAddress = getEnvFirst("SERVER_WALLET_ADDRESS", "NEXT_PUBLIC_SERVER_WALLET_ADDRESS")
	cfg.TokenID = getEnvFirst("TOKEN_ID", "NEXT_PUBLIC_TOKEN_ID")
	cfg.MobileWalletScheme = getEnvString("MOBILE_WALLET_SCHEME", "zerowallet://")
	cfg.EnableMobileWallet = getEnvBool("ENABLE_MOBILE_WALLET", true)

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	cfg.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", 24*time.Hour)
	cfg.AdminAPIKey = os.Getenv("ADMIN_API_KEY")
	cfg.RateLimitAuthPerMin = getEnvInt("RATE_LIMIT_AUTH_PER_MIN", 60)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", "http://localhost:8080"), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg
}

// getEnvList はカンマ区切りの環境変数を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvFirst は最初に値が設定されている環境変数を返す。
func getEnvFirst(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
