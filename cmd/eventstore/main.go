// イベントストアサービスのエントリポイント。
// 通知やチケットの状態変更を監査イベントとして追記のみで記録する。
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

	"github.com/nao1215/servicedesk/internal/eventstore"
	"github.com/nao1215/servicedesk/pkg/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "eventstore: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("eventstore", pflag.ContinueOnError)
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

	cfg, err := eventstore.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New("eventstore", cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := eventstore.OpenDB(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}

	return eventstore.NewServer(cfg, db, logger).Run(ctx)
}
