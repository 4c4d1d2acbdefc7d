package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/servicedesk/pkg/config"
	"github.com/nao1215/servicedesk/pkg/logging"
)

const (
	// StoreDriverSQLite はSQLiteに保存するドライバ名。
	StoreDriverSQLite = "sqlite"
	// StoreDriverCassandra はCassandraに保存するドライバ名。
	StoreDriverCassandra = "cassandra"
)

// Config は通知サービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port"`
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string `mapstructure:"database_path"`
	// JWTSecret はJWTの検証に使う共有鍵。
	JWTSecret string `mapstructure:"jwt_secret"`
	// EventStoreURL はEvent StoreサービスのベースURL。空の場合はイベントを記録しない。
	EventStoreURL string `mapstructure:"eventstore_url"`
	// EventStoreTimeout はEvent Storeへの1リクエストのタイムアウト。
	EventStoreTimeout time.Duration `mapstructure:"eventstore_timeout"`
	// Store は保存先の設定。
	Store StoreConfig `mapstructure:"store"`
	// Stream はストリームの送信間隔。
	Stream StreamConfig `mapstructure:"stream"`
	// Subscriber はEvent Storeからのチケットイベント取り込みの設定。
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	// Log はロガーの設定。
	Log logging.Config `mapstructure:"log"`
}

// StoreConfig は保存先の設定。
type StoreConfig struct {
	// Driver は sqlite または cassandra。
	Driver string `mapstructure:"driver"`
	// Cassandra はDriverがcassandraの場合の接続設定。
	Cassandra CassandraConfig `mapstructure:"cassandra"`
}

func defaults() map[string]any {
	return map[string]any{
		"port":                      "8086",
		"database_path":             "/data/notification.db",
		"jwt_secret":                "dev-secret-key",
		"eventstore_url":            "",
		"eventstore_timeout":        DefaultEventStoreTimeout.String(),
		"store.driver":              StoreDriverSQLite,
		"store.cassandra.hosts":     []string{"127.0.0.1"},
		"store.cassandra.keyspace":  "servicedesk",
		"stream.heartbeat_interval": DefaultHeartbeatInterval.String(),
		"stream.poll_interval":      DefaultPollInterval.String(),
		"subscriber.enabled":        false,
		"subscriber.interval":       DefaultSubscribeInterval.String(),
		"log.level":                 "info",
		"log.format":                "text",
		"log.file":                  "",
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
	if c.Port == "" {
		return errors.New("portが指定されていません")
	}
	if c.JWTSecret == "" {
		return errors.New("jwt_secretが指定されていません")
	}
	if c.Stream.HeartbeatInterval <= 0 || c.Stream.PollInterval <= 0 {
		return errors.New("streamの間隔は正の値を指定してください")
	}
	if c.EventStoreTimeout < 0 {
		return errors.New("eventstore_timeoutは0以上を指定してください")
	}
	if c.Subscriber.Enabled && c.EventStoreURL == "" {
		return errors.New("subscriber.enabledにはeventstore_urlの指定が必要です")
	}
	switch c.Store.Driver {
	case StoreDriverSQLite:
		if c.DatabasePath == "" {
			return errors.New("database_pathが指定されていません")
		}
	case StoreDriverCassandra:
	default:
		return fmt.Errorf("未対応のstore.driverです: %s", c.Store.Driver)
	}
	return nil
}

// OpenStore は設定に従って保存先を開く。
func OpenStore(ctx context.Context, cfg Config, logger logrus.FieldLogger) (Store, error) {
	if cfg.Store.Driver == StoreDriverCassandra {
		store, err := OpenCassandra(cfg.Store.Cassandra, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := OpenSQLite(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}
