package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
)

// connection は受け付けた1本の接続を処理する
// 接続はこのゴルーチンだけが所有する
type connection struct {
	conn    net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	handler http.Handler
	logger  logrus.FieldLogger
}

// serveConn は接続ごとのゴルーチンのエントリーポイント
// パニックやエラーはここで止め、他の接続や受け付けループには伝えない
func (a *Acceptor) serveConn(conn net.Conn, id string) {
	logger := a.logger.WithFields(logrus.Fields{
		"conn_id": id,
		"remote":  conn.RemoteAddr().String(),
	})

	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Errorf("ハンドラーがパニックしたため接続を閉じます\n%s", debug.Stack())
		}
	}()

	logger.Debug("接続を受け付けました")

	c := &connection{
		conn:    conn,
		br:      bufio.NewReader(conn),
		bw:      bufio.NewWriter(conn),
		handler: a.handler,
		logger:  logger,
	}

	if err := c.serve(); err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			logger.WithError(err).Warn("不正なリクエストのため接続を閉じます")
			return
		}
		logger.WithError(err).Debug("接続が異常終了しました")
		return
	}

	logger.Debug("接続を閉じました")
}

// serve はクライアントが接続を閉じるまでリクエストを処理する
func (c *connection) serve() error {
	for {
		keepAlive, err := c.serveRequest()
		if err != nil {
			// リクエストの合間のEOFは正常な切断
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !keepAlive {
			return nil
		}
	}
}

// serveRequest はリクエストを1件読み取り、応答を1件書き込む
// 接続を維持するかどうかを返す
func (c *connection) serveRequest() (bool, error) {
	req, err := http.ReadRequest(c.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, io.EOF
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return false, err
		}
		return false, &ProtocolError{Err: err}
	}

	if req.ProtoMajor != 1 {
		return false, &ProtocolError{Err: fmt.Errorf("未対応のプロトコル: %s", req.Proto)}
	}

	req.RemoteAddr = c.conn.RemoteAddr().String()

	// 中間応答は HTTP/1.1 以降のクライアントにだけ送る
	if req.ProtoAtLeast(1, 1) && req.ContentLength != 0 && strings.EqualFold(req.Header.Get("Expect"), "100-continue") {
		if _, err := io.WriteString(c.bw, "HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
			return false, err
		}
		if err := c.bw.Flush(); err != nil {
			return false, err
		}
	}

	w := newResponseWriter(req, c.logger)
	c.handler.ServeHTTP(w, req)

	// 次のリクエストを読む前に残りのボディを読み捨てる
	// ボディが壊れていればこのリクエストには応答しない
	if _, err := io.Copy(io.Discard, req.Body); err != nil {
		return false, &ProtocolError{Err: fmt.Errorf("ボディの読み取りに失敗: %w", err)}
	}
	_ = req.Body.Close()

	keepAlive := !req.Close && !w.closeRequested()
	if err := w.writeTo(c.bw, keepAlive); err != nil {
		return false, err
	}
	if err := c.bw.Flush(); err != nil {
		return false, err
	}

	c.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"uri":    req.RequestURI,
		"status": w.status,
	}).Trace("応答を送信しました")

	return keepAlive, nil
}
