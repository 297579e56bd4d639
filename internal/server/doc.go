// Package server は、固定応答を返す並行HTTPサーバーを提供します。
//
// このパッケージは、待ち受けソケットの管理、接続の受け付け、
// 接続ごとのHTTP/1.1リクエスト処理を担当します。
//
// 責務:
//   - 解決済みアドレスへのバインド（Acceptor）
//   - 接続ごとのゴルーチン起動と受け付けループ
//   - HTTP/1.1のフレーミング解析とキープアライブ
//   - 固定応答（200 "Hello World!"）の生成
//
// 仕様:
//   - 接続数の上限やワーカープールは持たない
//   - アイドルタイムアウトは設けない
//   - 不正なリクエストやパニックはその接続だけを閉じる
//   - 停止時に処理中の接続は待たない
package server
