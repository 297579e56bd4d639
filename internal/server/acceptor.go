package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 受け付けエラーが続いたときの待機時間
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = 1 * time.Second
)

// Acceptor は待ち受けソケットを所有し、受け付けループを実行する
type Acceptor struct {
	listener net.Listener
	handler  http.Handler
	logger   logrus.FieldLogger
	notice   io.Writer
}

// AcceptorOption は Acceptor の構築時オプション
type AcceptorOption func(*Acceptor)

// WithNoticeWriter は待ち受け開始の通知の出力先を変更する（デフォルトは標準出力）
// 通知はログレベルに関係なく必ず1回書き込まれる
func WithNoticeWriter(w io.Writer) AcceptorOption {
	return func(a *Acceptor) {
		a.notice = w
	}
}

// Bind は addr で待ち受けを開始する
// 失敗した場合は *BindError を返す
func Bind(addr *net.TCPAddr, handler http.Handler, logger logrus.FieldLogger, opts ...AcceptorOption) (*Acceptor, error) {
	return bind(addr, handler, logger, listenTCP, opts...)
}

type listenFunc func(addr *net.TCPAddr) (net.Listener, error)

func listenTCP(addr *net.TCPAddr) (net.Listener, error) {
	return net.ListenTCP("tcp", addr)
}

func bind(addr *net.TCPAddr, handler http.Handler, logger logrus.FieldLogger, listen listenFunc, opts ...AcceptorOption) (*Acceptor, error) {
	ln, err := listen(addr)
	if err != nil {
		return nil, &BindError{Addr: addr.String(), Err: err}
	}
	return newAcceptor(ln, handler, logger, opts...), nil
}

func newAcceptor(ln net.Listener, handler http.Handler, logger logrus.FieldLogger, opts ...AcceptorOption) *Acceptor {
	a := &Acceptor{
		listener: ln,
		handler:  handler,
		logger:   logger,
		notice:   os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Addr は実際にバインドされたアドレスを返す
// ポート0で起動した場合は割り当てられたポートが入る
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Close は待ち受けソケットを閉じる。処理中の接続は待たない
func (a *Acceptor) Close() error {
	return a.listener.Close()
}

// Serve は接続を受け付け、接続ごとにゴルーチンを起動する
//
// ctx がキャンセルされるとリスナーを閉じて nil を返す。
// 接続単位の一時的な受け付け失敗はログに記録してループを継続する。
// リスナーが閉じられた場合やソケット自体の異常ではエラーで終了する。
func (a *Acceptor) Serve(ctx context.Context) error {
	fmt.Fprintf(a.notice, "listening on http://%s\n", a.Addr())
	a.logger.Infof("listening on http://%s", a.Addr())

	stop := context.AfterFunc(ctx, func() {
		_ = a.listener.Close()
	})
	defer stop()

	var backoff time.Duration
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				a.logger.Info("待ち受けを終了しました")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("リスナーが閉じられました: %w", err)
			}
			if !isTemporaryAcceptError(err) {
				return fmt.Errorf("受け付けループを終了します: %w", &AcceptError{Err: err})
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			a.logger.WithError(&AcceptError{Err: err}).
				WithField("retry_in", backoff).
				Warn("接続の受け付けに失敗しました")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		go a.serveConn(conn, uuid.NewString())
	}
}

// isTemporaryAcceptError は接続単位の失敗やリソース不足など、
// 待てば回復しうる受け付けエラーかどうかを返す
func isTemporaryAcceptError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNABORTED,
		syscall.ECONNRESET,
		syscall.EPROTO,
		syscall.EINTR,
		syscall.EMFILE,
		syscall.ENFILE,
		syscall.ENOBUFS,
		syscall.ENOMEM,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
