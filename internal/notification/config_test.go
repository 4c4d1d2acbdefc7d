package notification

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadConfig はLoadConfig関数を検証する。
// 環境変数を操作するサブテストがあるため並列実行しない。
func TestLoadConfig(t *testing.T) {
	t.Run("デフォルト値で読み込めること", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig()でエラーが発生: %v", err)
		}
		if cfg.Port != "8086" {
			t.Errorf("Port = %q, want 8086", cfg.Port)
		}
		if cfg.Store.Driver != StoreDriverSQLite {
			t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
		}
		if cfg.Stream.HeartbeatInterval != 25*time.Second || cfg.Stream.PollInterval != 3*time.Second {
			t.Errorf("Stream = %+v", cfg.Stream)
		}
		if cfg.EventStoreURL != "" {
			t.Errorf("EventStoreURL = %q, want empty", cfg.EventStoreURL)
		}
		if cfg.EventStoreTimeout != 3*time.Second {
			t.Errorf("EventStoreTimeout = %v, want 3s", cfg.EventStoreTimeout)
		}
	})

	t.Run("環境変数で上書きできること", func(t *testing.T) {
		t.Setenv("EVENTSTORE_URL", "http://eventstore:8084")
		t.Setenv("STREAM_POLL_INTERVAL", "500ms")
		t.Setenv("STORE_DRIVER", "cassandra")
		t.Setenv("STORE_CASSANDRA_HOSTS", "cass-1,cass-2")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig()でエラーが発生: %v", err)
		}
		if cfg.EventStoreURL != "http://eventstore:8084" {
			t.Errorf("EventStoreURL = %q", cfg.EventStoreURL)
		}
		if cfg.Stream.PollInterval != 500*time.Millisecond {
			t.Errorf("PollInterval = %v, want 500ms", cfg.Stream.PollInterval)
		}
		if cfg.Store.Driver != StoreDriverCassandra {
			t.Errorf("Store.Driver = %q, want cassandra", cfg.Store.Driver)
		}
		if len(cfg.Store.Cassandra.Hosts) != 2 || cfg.Store.Cassandra.Hosts[1] != "cass-2" {
			t.Errorf("Cassandra.Hosts = %v", cfg.Store.Cassandra.Hosts)
		}
	})

	t.Run("不正な値はエラーになること", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notification.yaml")
		if err := os.WriteFile(path, []byte("store:\n  driver: mongodb\n"), 0o600); err != nil {
			t.Fatalf("設定ファイルの作成に失敗: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatal("未対応のドライバでエラーが返るべき")
		}
	})
}

// TestConfigValidate はValidateを検証する。
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{
		Port:         "8086",
		DatabasePath: "/tmp/n.db",
		JWTSecret:    "secret",
		Store:        StoreConfig{Driver: StoreDriverSQLite},
		Stream:       StreamConfig{HeartbeatInterval: time.Second, PollInterval: time.Second},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate()でエラーが発生: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"ポートなし", func(c *Config) { c.Port = "" }},
		{"JWT鍵なし", func(c *Config) { c.JWTSecret = "" }},
		{"ポーリング間隔が0", func(c *Config) { c.Stream.PollInterval = 0 }},
		{"SQLiteのパスなし", func(c *Config) { c.DatabasePath = "" }},
		{"未対応のドライバ", func(c *Config) { c.Store.Driver = "mysql" }},
		{"Event Store未指定で取り込みを有効化", func(c *Config) { c.Subscriber.Enabled = true }},
	}
	for _, tt := range tests {
		cfg := valid
		tt.modify(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate()がエラーを返すべき", tt.name)
		}
	}
}
