// Package main は hello サーバーだけを起動するコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"myfirstclap/internal/config"
	"myfirstclap/internal/logging"
	"myfirstclap/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host     = flag.String("host", "", "サーバーのホスト (デフォルト: 127.0.0.1)")
		port     = flag.String("port", "", "サーバーのポート (デフォルト: 3000)")
		logLevel = flag.String("log-level", "", "ログレベル (error, warn, info, debug, trace)")
		help     = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("myfirstclap hello server")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg := config.Load()

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Serve.Hostname = *host
	}
	if *port != "" {
		p, err := config.ParsePort(*port)
		if err != nil {
			log.Fatalf("%v", err)
		}
		cfg.Serve.SetPort(p)
	}
	if *logLevel != "" {
		cfg.Log.Level = strings.ToLower(*logLevel)
	}
	// このコマンドが使うのはログとサーバーの設定だけ
	if err := cfg.Log.Validate(); err != nil {
		log.Fatalf("設定の検証に失敗しました: %v", err)
	}
	if err := cfg.Serve.Validate(); err != nil {
		log.Fatalf("設定の検証に失敗しました: %v", err)
	}

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}

	srv := server.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// サーバーを起動
	logger.Infof("hello サーバーを起動します: %s", cfg.ServerAddress())
	if err := srv.Start(ctx); err != nil {
		logger.WithError(err).Error("サーバーの起動に失敗しました")
		stop()
		os.Exit(1)
	}
}
