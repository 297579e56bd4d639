package server

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// responseWriter は http.ResponseWriter の実装
// ボディはメモリに溜め、ハンドラーの終了後に Content-Length 付きで送信する
type responseWriter struct {
	req         *http.Request
	logger      logrus.FieldLogger
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseWriter(req *http.Request, logger logrus.FieldLogger) *responseWriter {
	return &responseWriter{
		req:    req,
		logger: logger,
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		w.logger.Warnf("WriteHeader が2回呼ばれました: %d", statusCode)
		return
	}
	w.wroteHeader = true
	w.status = statusCode
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if !bodyAllowed(w.status) {
		return 0, http.ErrBodyNotAllowed
	}
	if w.header.Get("Content-Type") == "" && w.body.Len() == 0 {
		w.header.Set("Content-Type", http.DetectContentType(b))
	}
	return w.body.Write(b)
}

// closeRequested はハンドラーが Connection: close を指定したかどうか
func (w *responseWriter) closeRequested() bool {
	return strings.EqualFold(w.header.Get("Connection"), "close")
}

// writeTo はステータス行、ヘッダー、ボディを書き込む
func (w *responseWriter) writeTo(bw *bufio.Writer, keepAlive bool) error {
	h := w.header.Clone()
	h.Del("Transfer-Encoding")

	if bodyAllowed(w.status) {
		h.Set("Content-Length", strconv.Itoa(w.body.Len()))
	} else {
		h.Del("Content-Length")
	}
	if h.Get("Date") == "" {
		h.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	switch {
	case !keepAlive:
		h.Set("Connection", "close")
	case w.req.ProtoMinor == 0:
		// HTTP/1.0 のクライアントには維持することを明示する
		h.Set("Connection", "keep-alive")
	default:
		h.Del("Connection")
	}

	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %03d %s\r\n", w.status, http.StatusText(w.status)); err != nil {
		return err
	}
	if err := h.Write(bw); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}

	if w.req.Method == http.MethodHead || !bodyAllowed(w.status) {
		return nil
	}
	_, err := bw.Write(w.body.Bytes())
	return err
}

// bodyAllowed はステータスコードがボディを持てるかどうかを返す
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
