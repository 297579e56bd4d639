package server

import "fmt"

// BindError は待ち受けソケットを作成できなかったことを表す
// アドレス使用中や権限不足など。サーバーは起動できない
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s にバインドできません: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AcceptError は個々の接続の受け付けに失敗したことを表す
// ログに記録され、受け付けループは継続する
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("接続の受け付けに失敗: %v", e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }

// ProtocolError はリクエストのフレーミングが不正だったことを表す
// その接続だけが閉じられる
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("不正なHTTPリクエスト: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
