// API Gatewayのエントリポイント。
// 開発用トークンの発行とJWT検証を行い、通知APIを通知サービスへ中継する。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nao1215/servicedesk/internal/gateway"
	"github.com/nao1215/servicedesk/pkg/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	configPath := flags.String("config", "", "設定ファイル(YAML)のパス")
	envFile := flags.String("env-file", "", "環境変数を読み込む.envファイルのパス")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	// 既に設定されている環境変数は上書きしない
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf(".envファイルの読み込みに失敗: %w", err)
		}
	}

	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New("gateway", cfg.Log)
	if err != nil {
		return err
	}
	if cfg.DevTokenEnabled {
		logger.Warn("開発用トークンの発行が有効です")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := gateway.OpenDB(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}

	return gateway.NewServer(cfg, db, logger).Run(ctx)
}
