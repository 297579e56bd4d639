package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// 環境変数名
const (
	EnvLogLevel         = "MYFIRSTCLAP_LOG_LEVEL"
	EnvServeHostname    = "MYFIRSTCLAP_SERVE_HELLO_HOSTNAME"
	EnvServePort        = "MYFIRSTCLAP_SERVE_HELLO_PORT"
	EnvVersionOutput    = "MYFIRSTCLAP_VERSION_OUTPUT"
	EnvVersionPretty    = "MYFIRSTCLAP_VERSION_PRETTY"
	EnvCompletionShell  = "MYFIRSTCLAP_COMPLETION_SHELL"
	defaultHostname     = "127.0.0.1"
	defaultPort         = 3000
	defaultLogLevel     = "info"
	defaultOutputFormat = "text"
	defaultShell        = "bash"
)

// LogLevels はサポートするログレベルの一覧
var LogLevels = []string{"error", "warn", "info", "debug", "trace"}

// OutputFormats は version コマンドの出力形式の一覧
var OutputFormats = []string{"text", "json", "full"}

// Shells は補完スクリプトを生成できるシェルの一覧
var Shells = []string{"bash", "zsh", "fish", "powershell"}

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Log        LogConfig
	Serve      ServeConfig
	Version    VersionConfig
	Completion CompletionConfig
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level string // error, warn, info, debug, trace
}

// ServeConfig は hello サーバーの設定
type ServeConfig struct {
	Hostname string // バインドするホスト名またはIPリテラル
	Port     uint16 // リッスンするポート番号

	// 環境変数のポート番号が不正だった場合のエラー
	// serve 以外のサブコマンドには影響させず、Validate で報告する
	portErr error
}

// VersionConfig は version コマンドの設定
type VersionConfig struct {
	Output string // text, json, full
	Pretty bool   // JSONを整形して出力する
}

// CompletionConfig は completion コマンドの設定
type CompletionConfig struct {
	Shell string
}

// Load は設定を読み込む
// デフォルト値を環境変数で上書きする
//
// 値の検証はしない。フラグで上書きした後に、
// 実行するサブコマンドが使うセクションだけを Validate で検証する。
func Load() *Config {
	port, portErr := getEnvAsPortOrDefault(EnvServePort, defaultPort)

	return &Config{
		Log: LogConfig{
			Level: strings.ToLower(getEnvOrDefault(EnvLogLevel, defaultLogLevel)),
		},
		Serve: ServeConfig{
			Hostname: getEnvOrDefault(EnvServeHostname, defaultHostname),
			Port:     port,
			portErr:  portErr,
		},
		Version: VersionConfig{
			Output: strings.ToLower(getEnvOrDefault(EnvVersionOutput, defaultOutputFormat)),
			// MYFIRSTCLAP_VERSION_PRETTY は --no-pretty に対応する
			Pretty: !getEnvAsBoolOrDefault(EnvVersionPretty, false),
		},
		Completion: CompletionConfig{
			Shell: strings.ToLower(getEnvOrDefault(EnvCompletionShell, defaultShell)),
		},
	}
}

// Validate はすべてのセクションを検証する
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Serve.Validate(); err != nil {
		return err
	}
	if err := c.Version.Validate(); err != nil {
		return err
	}
	return c.Completion.Validate()
}

// Validate はログ設定を検証する
func (c *LogConfig) Validate() error {
	if !contains(LogLevels, c.Level) {
		return fmt.Errorf("無効なログレベル: %q (%s のいずれか)", c.Level, strings.Join(LogLevels, ", "))
	}
	return nil
}

// SetPort はポート番号を明示的に設定する
// 環境変数の読み取りエラーは上書きされたものとして破棄する
func (c *ServeConfig) SetPort(port uint16) {
	c.Port = port
	c.portErr = nil
}

// Validate はサーバー設定を検証する
func (c *ServeConfig) Validate() error {
	if c.portErr != nil {
		return c.portErr
	}
	if c.Hostname == "" {
		return fmt.Errorf("ホスト名が指定されていません")
	}
	// ポート0はエフェメラルポートになるためCLIからは受け付けない
	if c.Port == 0 {
		return fmt.Errorf("無効なポート番号: %d", c.Port)
	}
	return nil
}

// Validate は version コマンドの設定を検証する
func (c *VersionConfig) Validate() error {
	if !contains(OutputFormats, c.Output) {
		return fmt.Errorf("無効な出力形式: %q (%s のいずれか)", c.Output, strings.Join(OutputFormats, ", "))
	}
	return nil
}

// Validate は completion コマンドの設定を検証する
func (c *CompletionConfig) Validate() error {
	if !contains(Shells, c.Shell) {
		return fmt.Errorf("未対応のシェル: %q (%s のいずれか)", c.Shell, strings.Join(Shells, ", "))
	}
	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Serve.Hostname, strconv.Itoa(int(c.Serve.Port)))
}

// ParsePort はポート番号の文字列を検証して uint16 に変換する
func ParsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("無効なポート番号: %q: %w", s, err)
	}
	return uint16(v), nil
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsPortOrDefault は環境変数をポート番号として取得する
// 値が不正な場合はデフォルト値とエラーを返す
func getEnvAsPortOrDefault(key string, defaultValue uint16) (uint16, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	port, err := ParsePort(value)
	if err != nil {
		return defaultValue, fmt.Errorf("環境変数 %s: %w", key, err)
	}
	return port, nil
}

// getEnvAsBoolOrDefault は環境変数を真偽値として取得する
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
