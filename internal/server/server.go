package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"myfirstclap/internal/config"
	"myfirstclap/internal/resolver"
)

// Server は hello サーバーを管理する構造体
type Server struct {
	config   *config.Config
	logger   logrus.FieldLogger
	handler  http.Handler
	resolver *resolver.Resolver
	listen   listenFunc
	notice   io.Writer
}

// Option は Server の構築時オプション
type Option func(*Server)

// WithHandler はリクエストハンドラーを差し替える
func WithHandler(h http.Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithResolver はアドレス解決に使うリゾルバを差し替える
func WithResolver(r *resolver.Resolver) Option {
	return func(s *Server) {
		s.resolver = r
	}
}

// WithNotice は待ち受け開始の通知の出力先を変更する
func WithNotice(w io.Writer) Option {
	return func(s *Server) {
		s.notice = w
	}
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, logger logrus.FieldLogger, opts ...Option) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger,
		resolver: resolver.New(nil),
		listen:   listenTCP,
		notice:   os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		s.handler = NewHelloHandler(logger)
	}
	return s
}

// Listen はアドレスを解決してバインドする
// 解決に失敗した場合はバインドを試みない
func (s *Server) Listen(ctx context.Context) (*Acceptor, error) {
	addr, err := s.resolver.Resolve(ctx, s.config.Serve.Hostname, s.config.Serve.Port)
	if err != nil {
		return nil, fmt.Errorf("待ち受けアドレスの解決に失敗: %w", err)
	}

	s.logger.WithField("addr", addr.String()).Debug("アドレスを解決しました")

	acc, err := bind(addr, s.handler, s.logger, s.listen, WithNoticeWriter(s.notice))
	if err != nil {
		return nil, fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return acc, nil
}

// Start はサーバーを起動し、ctx がキャンセルされるまで接続を受け付ける
// キャンセル時は処理中の接続を待たずに nil を返す
func (s *Server) Start(ctx context.Context) error {
	acc, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return acc.Serve(ctx)
}
