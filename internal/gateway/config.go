package gateway

import (
	"errors"

	"github.com/nao1215/servicedesk/pkg/config"
	"github.com/nao1215/servicedesk/pkg/logging"
)

// Config はGatewayサービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port"`
	// DatabasePath はユーザーを保存するSQLiteデータベースファイルのパス。
	DatabasePath string `mapstructure:"database_path"`
	// JWTSecret はJWTの署名に使う共有鍵。
	JWTSecret string `mapstructure:"jwt_secret"`
	// NotificationURL は通知サービスのベースURL。
	NotificationURL string `mapstructure:"notification_url"`
	// FrontendURLs はCORSを許可するオリジン。
	FrontendURLs []string `mapstructure:"frontend_urls"`
	// DevTokenEnabled が true の場合のみ開発用トークンを発行する。
	DevTokenEnabled bool `mapstructure:"dev_token_enabled"`
	// Log はロガーの設定。
	Log logging.Config `mapstructure:"log"`
}

func defaults() map[string]any {
	return map[string]any{
		"port":              "8080",
		"database_path":     "/data/gateway.db",
		"jwt_secret":        "dev-secret-key",
		"notification_url":  "http://localhost:8086",
		"frontend_urls":     []string{"http://localhost:3000"},
		"dev_token_enabled": false,
		"log.level":         "info",
		"log.format":        "text",
		"log.file":          "",
	}
}

// LoadConfig は設定ファイルと環境変数から設定を読み込む。pathは空でもよい。
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.Load(path, defaults(), &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は設定値を検証する。
func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return errors.New("portが指定されていません")
	case c.JWTSecret == "":
		return errors.New("jwt_secretが指定されていません")
	case c.NotificationURL == "":
		return errors.New("notification_urlが指定されていません")
	case c.DatabasePath == "":
		return errors.New("database_pathが指定されていません")
	}
	return nil
}
