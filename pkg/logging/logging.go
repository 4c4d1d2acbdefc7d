// Package logging は全サービス共通のlogrusロガーを構築する。
//
// 標準出力への出力に加えて、ファイルパスが指定された場合は
// lumberjackによるローテーション付きのファイル出力を行う。
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config はロガーの設定。
type Config struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string `mapstructure:"level"`
	// Format は出力形式（text または json）。
	Format string `mapstructure:"format"`
	// File はログファイルのパス。空の場合はファイル出力しない。
	File string `mapstructure:"file"`
}

// New はサービス名をフィールドに持つロガーを生成する。
func New(service string, cfg Config) (*logrus.Entry, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("ログレベルが不正です: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("ログ形式が不正です: %s", cfg.Format)
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	logger.SetOutput(out)

	return logger.WithField("service", service), nil
}

// Discard はテスト用に出力を破棄するロガーを返す。
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
