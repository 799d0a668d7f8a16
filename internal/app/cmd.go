package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandRollback は直近のマイグレーションを1つ戻すことを示す。
	CommandRollback Command = "rollback"
	// CommandSweep は失効済みリフレッシュトークンを消去して終了することを示す。
	CommandSweep Command = "sweep"
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
	case "migrate":
		return CommandMigrate
	case "rollback":
		return CommandRollback
	case "sweep":
		return CommandSweep
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
