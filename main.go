package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"myfirstclap/internal/cli"
	"myfirstclap/internal/config"
)

func main() {
	// 設定を読み込む。検証はサブコマンドごとにフラグを適用した後で行う
	cfg := config.Load()

	// GIN_MODE が指定されていなければリリースモードで動かす
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// SIGINT/SIGTERM でキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
			stop()
			os.Exit(1)
		}
	}
}
