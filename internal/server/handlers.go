package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Greeting はすべてのリクエストに返す固定のボディ
const Greeting = "Hello World!"

// NewHelloHandler は固定応答を返すハンドラーを作成する
//
// ルートは登録しない。メソッドやパスに関係なく、
// すべてのリクエストがキャッチオールで 200 と Greeting を受け取る。
// gin のモードは変更しない。エントリーポイントか GIN_MODE で設定する。
func NewHelloHandler(logger logrus.FieldLogger) http.Handler {
	engine := gin.New()
	engine.Use(requestLogger(logger))
	engine.NoRoute(hello)
	engine.NoMethod(hello)

	return engine
}

// hello は固定応答を書き込む
func hello(c *gin.Context) {
	c.String(http.StatusOK, Greeting)
}

// requestLogger はリクエストごとにデバッグログを出力するミドルウェア
func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("リクエストを処理しました")
	}
}
