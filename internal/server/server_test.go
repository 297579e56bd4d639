package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myfirstclap/internal/config"
	"myfirstclap/internal/resolver"
)

// startAcceptor はテスト用に 127.0.0.1 のエフェメラルポートでサーバーを起動する
func startAcceptor(t *testing.T, handler http.Handler, logger logrus.FieldLogger) string {
	t.Helper()

	acc, err := Bind(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}, handler, logger, WithNoticeWriter(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- acc.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("サーバーの停止がタイムアウトしました")
		}
	})

	return acc.Addr().String()
}

func startHello(t *testing.T) string {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	return startAcceptor(t, NewHelloHandler(logger), logger)
}

// dial は読み書きのデッドライン付きで接続する
func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// roundTrip は生のリクエストを送り、応答を1件読み取る
func roundTrip(t *testing.T, conn net.Conn, br *bufio.Reader, raw string, method string) (*http.Response, string) {
	t.Helper()
	_, err := io.WriteString(conn, raw)
	require.NoError(t, err)

	resp, err := http.ReadResponse(br, &http.Request{Method: method})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

// assertClosed は接続がサーバー側から閉じられたことを確認する
func assertClosed(t *testing.T, conn net.Conn, br *bufio.Reader) {
	t.Helper()
	_, err := br.ReadByte()
	require.Error(t, err, "接続が閉じられていること")

	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "タイムアウトではなく切断であること: %v", err)
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	cfg := &config.Config{
		Serve: config.ServeConfig{
			Hostname: "127.0.0.1",
			Port:     0, // ランダムポートを使用
		},
	}
	logger, hook := logtest.NewNullLogger()
	srv := New(cfg, logger, WithNotice(io.Discard))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// 待ち受け開始のログが出るまで待つ
	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if strings.HasPrefix(e.Message, "listening on http://127.0.0.1:") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err, "キャンセル時はエラーを返さないこと")
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestHelloEndpoints はパスやヘッダーに関係なく固定応答が返ることをテストする
func TestHelloEndpoints(t *testing.T) {
	addr := startHello(t)
	baseURL := fmt.Sprintf("http://%s", addr)

	testCases := []struct {
		name   string
		method string
		path   string
		header map[string]string
	}{
		{"ルート", http.MethodGet, "/", nil},
		{"任意のパス", http.MethodGet, "/anything", nil},
		{"深いパスとクエリ", http.MethodGet, "/a/b/c?x=1&y=2", nil},
		{"任意のヘッダー", http.MethodGet, "/", map[string]string{"X-Custom": "value", "Accept": "application/json"}},
		{"POST", http.MethodPost, "/submit", nil},
		{"DELETE", http.MethodDelete, "/resource/1", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, baseURL+tc.path, strings.NewReader("payload"))
			require.NoError(t, err)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err, "HTTPリクエストでエラーが発生しました")
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, Greeting, string(body))
			assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
		})
	}
}

// TestRawRequestScenario は GET /anything HTTP/1.1 の応答をバイト列レベルで確認する
func TestRawRequestScenario(t *testing.T) {
	addr := startHello(t)
	conn := dial(t, addr)
	br := bufio.NewReader(conn)

	_, err := io.WriteString(conn, "GET /anything HTTP/1.1\r\nHost: example\r\n\r\n")
	require.NoError(t, err)

	statusLine, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", statusLine)

	resp, err := http.ReadResponse(bufio.NewReader(io.MultiReader(strings.NewReader(statusLine), br)), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, Greeting, string(body))
	assert.Equal(t, int64(len(Greeting)), resp.ContentLength)
}

// TestKeepAlive は1本の接続で複数のリクエストを処理できることをテストする
func TestKeepAlive(t *testing.T) {
	addr := startHello(t)
	conn := dial(t, addr)
	br := bufio.NewReader(conn)

	requests := []string{
		"GET /first HTTP/1.1\r\nHost: x\r\n\r\n",
		"POST /second HTTP/1.1\r\nHost: x\r\nContent-Length: 11\r\n\r\nhello world",
		"POST /third HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n",
		"GET /fourth HTTP/1.1\r\nHost: x\r\n\r\n",
	}

	for i, raw := range requests {
		resp, body := roundTrip(t, conn, br, raw, http.MethodGet)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "リクエスト %d", i)
		assert.Equal(t, Greeting, body, "リクエスト %d", i)
		assert.False(t, resp.Close, "接続が維持されること")
	}
}

// TestPipelinedRequests は一度に送られた複数のリクエストに順番に応答することをテストする
func TestPipelinedRequests(t *testing.T) {
	addr := startHello(t)
	conn := dial(t, addr)
	br := bufio.NewReader(conn)

	raw := strings.Repeat("GET / HTTP/1.1\r\nHost: x\r\n\r\n", 3)
	_, err := io.WriteString(conn, raw)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		resp, err := http.ReadResponse(br, nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, Greeting, string(body))
	}
}

// TestConnectionClose は Connection: close や HTTP/1.0 で接続が閉じられることをテストする
func TestConnectionClose(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{"Connection: close", "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"},
		{"HTTP/1.0", "GET / HTTP/1.0\r\n\r\n"},
	}

	addr := startHello(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dial(t, addr)
			br := bufio.NewReader(conn)

			resp, body := roundTrip(t, conn, br, tc.raw, http.MethodGet)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, Greeting, body)
			assert.True(t, resp.Close)

			assertClosed(t, conn, br)
		})
	}
}

// TestHTTP10KeepAlive は HTTP/1.0 でも keep-alive を要求すれば接続が維持されることをテストする
func TestHTTP10KeepAlive(t *testing.T) {
	addr := startHello(t)
	conn := dial(t, addr)
	br := bufio.NewReader(conn)

	for i := 0; i < 2; i++ {
		resp, body := roundTrip(t, conn, br, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", http.MethodGet)
		assert.Equal(t, Greeting, body)
		assert.Equal(t, "keep-alive", resp.Header.Get("Connection"))
	}
}

// TestHeadRequest は HEAD ではボディを送らないことをテストする
func TestHeadRequest(t *testing.T) {
	addr := startHello(t)
	conn := dial(t, addr)
	br := bufio.NewReader(conn)

	resp, body := roundTrip(t, conn, br, "HEAD / HTTP/1.1\r\nHost: x\r\n\r\n", http.MethodHead)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, fmt.Sprint(len(Greeting)), resp.Header.Get("Content-Length"))

	// 次のリクエストが正しく処理されること（ボディが混ざっていない）
	resp, body = roundTrip(t, conn, br, "GET / HTTP/1.1\r\nHost: x\r\n\r\n", http.MethodGet)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Greeting, body)
}

// TestExpectContinue は 100-continue に中間応答を返すことをテストする
func TestExpectContinue(t *testing.T) {
	addr := startHello(t)
	conn := dial(t, addr)
	br := bufio.NewReader(conn)

	_, err := io.WriteString(conn, "PUT /upload HTTP/1.1\r\nHost: x\r\nContent-Length: 4\r\nExpect: 100-continue\r\n\r\n")
	require.NoError(t, err)

	interim, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusContinue, interim.StatusCode)

	_, err = io.WriteString(conn, "data")
	require.NoError(t, err)

	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Greeting, string(body))
}

// TestExpectContinueHTTP10 は HTTP/1.0 のクライアントには中間応答を送らないことをテストする
func TestExpectContinueHTTP10(t *testing.T) {
	addr := startHello(t)
	conn := dial(t, addr)
	br := bufio.NewReader(conn)

	resp, body := roundTrip(t, conn, br,
		"PUT /upload HTTP/1.0\r\nContent-Length: 4\r\nExpect: 100-continue\r\n\r\ndata", http.MethodPut)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "最初の応答が最終応答であること")
	assert.Equal(t, Greeting, body)
}

// TestHelloHandlerKeepsGinMode はハンドラーの作成で gin のモードが変わらないことをテストする
func TestHelloHandlerKeepsGinMode(t *testing.T) {
	orig := gin.Mode()
	defer gin.SetMode(orig)

	for _, mode := range []string{gin.TestMode, gin.DebugMode} {
		gin.SetMode(mode)
		logger, _ := logtest.NewNullLogger()
		_ = NewHelloHandler(logger)
		assert.Equal(t, mode, gin.Mode())
	}
}

// TestMalformedRequestIsolation は不正なリクエストを送った接続だけが閉じられることをテストする
func TestMalformedRequestIsolation(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{"ゴミデータ", "garbage\r\n\r\n"},
		{"バイナリ", "\x00\x01\x02\x03\r\n\r\n"},
		{"不正なバージョン", "GET / HTTP/x.y\r\nHost: x\r\n\r\n"},
		{"HTTP/2", "GET / HTTP/2.0\r\nHost: x\r\n\r\n"},
		{"不正なヘッダー行", "GET / HTTP/1.1\r\nHost: x\r\nBad Header Line\r\n\r\n"},
		{"不正なContent-Length", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: abc\r\n\r\n"},
		{"不正なチャンク", "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\nhello\r\n0\r\n\r\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logger, hook := logtest.NewNullLogger()
			addr := startAcceptor(t, NewHelloHandler(logger), logger)

			// 2本の接続を開き、一方だけを壊す
			bad := dial(t, addr)
			good := dial(t, addr)
			goodReader := bufio.NewReader(good)

			_, err := io.WriteString(bad, tc.raw)
			require.NoError(t, err)
			assertClosed(t, bad, bufio.NewReader(bad))

			resp, body := roundTrip(t, good, goodReader, "GET / HTTP/1.1\r\nHost: x\r\n\r\n", http.MethodGet)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, Greeting, body)

			require.Eventually(t, func() bool {
				for _, e := range hook.AllEntries() {
					if err, ok := e.Data[logrus.ErrorKey].(error); ok {
						var protoErr *ProtocolError
						if errors.As(err, &protoErr) && e.Data["conn_id"] != "" {
							return true
						}
					}
				}
				return false
			}, 2*time.Second, 10*time.Millisecond, "ProtocolError がログに記録されること")
		})
	}
}

// TestHandlerPanicIsolation はハンドラーのパニックが他の接続に影響しないことをテストする
func TestHandlerPanicIsolation(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		_, _ = io.WriteString(w, Greeting)
	})
	addr := startAcceptor(t, handler, logger)

	bad := dial(t, addr)
	good := dial(t, addr)
	goodReader := bufio.NewReader(good)

	_, err := io.WriteString(bad, "GET /panic HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	assertClosed(t, bad, bufio.NewReader(bad))

	resp, body := roundTrip(t, good, goodReader, "GET / HTTP/1.1\r\nHost: x\r\n\r\n", http.MethodGet)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Greeting, body)

	// 新しい接続も受け付けられること
	fresh := dial(t, addr)
	resp, body = roundTrip(t, fresh, bufio.NewReader(fresh), "GET / HTTP/1.1\r\nHost: x\r\n\r\n", http.MethodGet)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Greeting, body)

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.ErrorLevel && e.Data["panic"] == "boom" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

// TestConcurrentConnections は多数の同時接続がすべて固定応答を受け取ることをテストする
func TestConcurrentConnections(t *testing.T) {
	const n = 50
	addr := startHello(t)

	// 先にリクエストを完結させない接続を開いておく
	stalled := dial(t, addr)
	_, err := io.WriteString(stalled, "GET / HTTP/1.1\r\nHost: x\r\n")
	require.NoError(t, err)

	conns := make([]net.Conn, n)
	for i := range conns {
		conns[i] = dial(t, addr)
	}

	var (
		wg    sync.WaitGroup
		okCnt atomic.Int32
	)
	start := time.Now()
	for i := range conns {
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			if _, err := io.WriteString(conn, "GET /load HTTP/1.1\r\nHost: x\r\n\r\n"); err != nil {
				t.Errorf("書き込みに失敗: %v", err)
				return
			}
			resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
			if err != nil {
				t.Errorf("応答の読み取りに失敗: %v", err)
				return
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Errorf("ボディの読み取りに失敗: %v", err)
				return
			}
			if resp.StatusCode == http.StatusOK && string(body) == Greeting {
				okCnt.Add(1)
			}
		}(conns[i])
	}
	wg.Wait()

	assert.Equal(t, int32(n), okCnt.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

// TestSlowHandlerDoesNotBlockOthers は処理中の接続が他の接続を待たせないことをテストする
func TestSlowHandlerDoesNotBlockOthers(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			<-release
		}
		_, _ = io.WriteString(w, Greeting)
	})
	addr := startAcceptor(t, handler, logger)
	defer close(release)

	slow := dial(t, addr)
	_, err := io.WriteString(slow, "GET /slow HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)

	fast := dial(t, addr)
	resp, body := roundTrip(t, fast, bufio.NewReader(fast), "GET /fast HTTP/1.1\r\nHost: x\r\n\r\n", http.MethodGet)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Greeting, body)
}

// TestStartResolutionError は解決できないホスト名ではバインドを試みないことをテストする
func TestStartResolutionError(t *testing.T) {
	cfg := &config.Config{Serve: config.ServeConfig{Hostname: "no-such-host.invalid", Port: 3000}}
	logger, _ := logtest.NewNullLogger()

	srv := New(cfg, logger, WithResolver(resolver.New(failingLookuper{})), WithNotice(io.Discard))
	var listenCalls int
	srv.listen = func(addr *net.TCPAddr) (net.Listener, error) {
		listenCalls++
		return listenTCP(addr)
	}

	err := srv.Start(context.Background())

	var resErr *resolver.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "no-such-host.invalid", resErr.Host)
	assert.Zero(t, listenCalls, "バインドが試みられていないこと")
}

type failingLookuper struct{}

func (failingLookuper) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}
