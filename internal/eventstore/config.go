package eventstore

import (
	"errors"

	"github.com/nao1215/servicedesk/pkg/config"
	"github.com/nao1215/servicedesk/pkg/logging"
)

// Config はイベントストアサービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port"`
	// DatabasePath はイベントを保存するSQLiteデータベースファイルのパス。
	DatabasePath string `mapstructure:"database_path"`
	// Log はロガーの設定。
	Log logging.Config `mapstructure:"log"`
}

func defaults() map[string]any {
	return map[string]any{
		"port":          "8084",
		"database_path": "/data/eventstore.db",
		"log.level":     "info",
		"log.format":    "text",
		"log.file":      "",
	}
}

// LoadConfig は設定ファイルと環境変数から設定を読み込む。pathは空でもよい。
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.Load(path, defaults(), &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Port == "" {
		return Config{}, errors.New("portが指定されていません")
	}
	if cfg.DatabasePath == "" {
		return Config{}, errors.New("database_pathが指定されていません")
	}
	return cfg, nil
}
