// Package config はviperを用いてサービス設定を読み込む。
//
// 設定は「デフォルト値 → YAMLファイル → 環境変数」の順に上書きされる。
// ネストしたキーは "." を "_" に置き換えた大文字の環境変数名で上書きできる
// （例: stream.poll_interval → STREAM_POLL_INTERVAL）。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load は設定を読み込み、outにデコードする。
// pathが空の場合は設定ファイルを読まず、デフォルト値と環境変数のみを使用する。
// outはmapstructureタグを持つ構造体へのポインタでなければならない。
func Load(path string, defaults map[string]any, out any) error {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	return nil
}
