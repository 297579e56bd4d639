// Package logging はアプリケーション共通のロガーを構築する
//
// ログレベルは環境変数を書き換えず、設定値として明示的に受け取る。
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"myfirstclap/internal/config"
)

// Option はロガー構築時のオプション
type Option func(*logrus.Logger)

// WithOutput はログの出力先を変更する
func WithOutput(w io.Writer) Option {
	return func(l *logrus.Logger) {
		l.SetOutput(w)
	}
}

// New は設定に従ってロガーを作成する
func New(cfg config.LogConfig, opts ...Option) (*logrus.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})

	for _, opt := range opts {
		opt(logger)
	}

	return logger, nil
}

// ParseLevel はCLIで扱うログレベル名を logrus のレベルに変換する
func ParseLevel(name string) (logrus.Level, error) {
	switch strings.ToLower(name) {
	case "error":
		return logrus.ErrorLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "trace":
		return logrus.TraceLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("無効なログレベル: %q", name)
}

