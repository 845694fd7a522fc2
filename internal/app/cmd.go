package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は認証APIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandLogin はターミナルでウォレット認証を行うことを示す。
	CommandLogin Command = "login"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandKeygen はストアの暗号化鍵を生成することを示す。
	CommandKeygen Command = "keygen"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "login":
		return CommandLogin
	case "migrate":
		return CommandMigrate
	case "keygen":
		return CommandKeygen
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
